// Package sagemaker invokes SageMaker Runtime endpoints with a text prompt and
// normalizes whatever the serving container answers into a single string.
package sagemaker

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"echochat/internal/integrations/paramstore"
	"echochat/internal/metrics"
)

const (
	EnvRegion        = "AWS_REGION"
	EnvDefaultRegion = "AWS_DEFAULT_REGION"
	EnvEndpointName  = "AWS_SAGEMAKER_ENDPOINT_NAME"

	contentTypeJSON     = "application/json"
	maxAttempts         = 3
	endpointParamSuffix = "/config/sagemaker_endpoint"
	regionSetting       = EnvRegion + " (or " + EnvDefaultRegion + ")"
)

// runtimeAPI is the minimal SageMaker Runtime interface required by Client.
// *sagemakerruntime.Client satisfies this interface.
type runtimeAPI interface {
	InvokeEndpoint(ctx context.Context, in *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

type runtimeFactory func(ctx context.Context, region string) (runtimeAPI, error)

type invokePayload struct {
	Inputs     string         `json:"inputs"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Client invokes a named inference endpoint.
type Client struct {
	region       string
	endpointName string
	params       paramstore.Lookuper
	paramPrefix  string
	extractor    *extractor
	newRuntime   runtimeFactory
	log          *zap.SugaredLogger

	runtimeMu sync.Mutex
	runtime   runtimeAPI

	endpointMu     sync.Mutex
	storedEndpoint string
}

type Option func(*Client)

// WithRegion overrides the region taken from the environment.
func WithRegion(region string) Option {
	return func(c *Client) {
		if region = strings.TrimSpace(region); region != "" {
			c.region = region
		}
	}
}

// WithEndpointName overrides the endpoint taken from the environment.
func WithEndpointName(name string) Option {
	return func(c *Client) {
		if name = strings.TrimSpace(name); name != "" {
			c.endpointName = name
		}
	}
}

// WithParamStore enables <prefix>/config/sagemaker_endpoint as the last
// source for the endpoint name.
func WithParamStore(l paramstore.Lookuper, prefix string) Option {
	return func(c *Client) {
		c.params = l
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

// WithTextKeys replaces the priority keys used during extraction.
func WithTextKeys(keys ...string) Option {
	return func(c *Client) {
		c.extractor = newExtractor(keys...)
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient creates a Client. Region and endpoint default to the AWS_REGION
// (or AWS_DEFAULT_REGION) and AWS_SAGEMAKER_ENDPOINT_NAME variables; nothing
// is validated until the first Invoke.
func NewClient(opts ...Option) *Client {
	c := &Client{
		region:       firstNonEmpty(os.Getenv(EnvRegion), os.Getenv(EnvDefaultRegion)),
		endpointName: strings.TrimSpace(os.Getenv(EnvEndpointName)),
		extractor:    newExtractor(),
		newRuntime:   newSDKRuntime,
		log:          zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke sends prompt to the endpoint and returns the extracted text.
// endpointOverride, when set, wins over every configured endpoint name.
// Failures after configuration resolution are *InferenceError.
func (c *Client) Invoke(ctx context.Context, prompt string, parameters map[string]any, endpointOverride string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("sagemaker: prompt must not be empty")
	}

	if c.region == "" {
		metrics.InferenceRequests.WithLabelValues(metrics.OutcomeConfig).Inc()
		return "", &ConfigurationError{Setting: regionSetting}
	}
	endpoint, err := c.resolveEndpoint(ctx, endpointOverride)
	if err != nil {
		metrics.InferenceRequests.WithLabelValues(metrics.OutcomeConfig).Inc()
		return "", err
	}

	body, err := json.Marshal(invokePayload{Inputs: prompt, Parameters: parameters})
	if err != nil {
		return "", &InferenceError{Message: "SageMaker request could not be encoded", Err: err}
	}

	api, err := c.runtimeClient(ctx)
	if err != nil {
		metrics.InferenceRequests.WithLabelValues(metrics.OutcomeConfig).Inc()
		return "", err
	}

	start := time.Now()
	out, err := api.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(endpoint),
		ContentType:  aws.String(contentTypeJSON),
		Accept:       aws.String(contentTypeJSON),
		Body:         body,
	})
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InferenceRequests.WithLabelValues(metrics.OutcomeError).Inc()
		return "", invokeError(err)
	}

	var raw []byte
	if out != nil {
		raw = out.Body
	}
	parsed, err := decodeBody(raw)
	if err != nil {
		metrics.InferenceRequests.WithLabelValues(metrics.OutcomeMalformed).Inc()
		return "", &InferenceError{Message: "SageMaker returned a malformed response", Err: err}
	}

	text, shape := c.extractor.extract(parsed)
	metrics.InferenceRequests.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.ResponseShapes.WithLabelValues(shape).Inc()
	c.log.Debugw("inference complete", "endpoint", endpoint, "shape", shape, "response_bytes", len(raw))
	return text, nil
}

// resolveEndpoint applies override > option/env > parameter store. A stored
// value is cached once found; lookup failures are retried on the next call.
func (c *Client) resolveEndpoint(ctx context.Context, override string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		return override, nil
	}
	if c.endpointName != "" {
		return c.endpointName, nil
	}
	if c.params == nil || c.paramPrefix == "" {
		return "", &ConfigurationError{Setting: EnvEndpointName}
	}

	c.endpointMu.Lock()
	defer c.endpointMu.Unlock()
	if c.storedEndpoint != "" {
		return c.storedEndpoint, nil
	}

	name := c.paramPrefix + endpointParamSuffix
	v, found, err := c.params.Lookup(ctx, name)
	if err != nil {
		return "", &ConfigurationError{Setting: EnvEndpointName, Err: err}
	}
	if v = strings.TrimSpace(v); !found || v == "" {
		return "", &ConfigurationError{Setting: EnvEndpointName + " (or parameter " + name + ")"}
	}
	c.storedEndpoint = v
	return v, nil
}

// runtimeClient builds the SDK client on first use and keeps it for the
// lifetime of the process. A failed build is not cached.
func (c *Client) runtimeClient(ctx context.Context) (runtimeAPI, error) {
	c.runtimeMu.Lock()
	defer c.runtimeMu.Unlock()
	if c.runtime != nil {
		return c.runtime, nil
	}
	api, err := c.newRuntime(ctx, c.region)
	if err != nil {
		return nil, &ConfigurationError{Setting: "AWS SDK configuration", Err: err}
	}
	c.runtime = api
	return api, nil
}

func newSDKRuntime(ctx context.Context, region string) (runtimeAPI, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithRetryMode(aws.RetryModeStandard),
		config.WithRetryMaxAttempts(maxAttempts),
	)
	if err != nil {
		return nil, errors.Wrap(err, "load AWS config")
	}
	return sagemakerruntime.NewFromConfig(cfg), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
