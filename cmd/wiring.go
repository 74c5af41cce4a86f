package main

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"echochat/handler"
	"echochat/internal/config"
	"echochat/internal/integrations/firebase"
	"echochat/internal/integrations/paramstore"
	"echochat/internal/integrations/sagemaker"
	"echochat/internal/repository"
	"echochat/internal/usecase"
)

const inferenceParamsSuffix = "/config/inference_parameters"

func loadAWSConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, "load AWS config")
	}
	return awsCfg, nil
}

// newParamStore returns nil when no parameter prefix is configured.
func newParamStore(awsCfg aws.Config, cfg config.Config) (*paramstore.Client, error) {
	if cfg.ParamPrefix == "" {
		return nil, nil
	}
	return paramstore.New(awsssm.NewFromConfig(awsCfg))
}

// asLookuper keeps a nil client from becoming a non-nil interface.
func asLookuper(c *paramstore.Client) paramstore.Lookuper {
	if c == nil {
		return nil
	}
	return c
}

func newInferenceClient(cfg config.Config, params *paramstore.Client, log *zap.SugaredLogger) *sagemaker.Client {
	opts := []sagemaker.Option{
		sagemaker.WithRegion(cfg.Region),
		sagemaker.WithEndpointName(cfg.EndpointName),
		sagemaker.WithTextKeys(cfg.TextKeys...),
		sagemaker.WithLogger(log),
	}
	if params != nil {
		opts = append(opts, sagemaker.WithParamStore(params, cfg.ParamPrefix))
	}
	return sagemaker.NewClient(opts...)
}

// inferenceParameters prefers INFERENCE_PARAMETERS and falls back to the
// parameter store.
func inferenceParameters(ctx context.Context, cfg config.Config, params paramstore.Lookuper) (map[string]any, error) {
	if cfg.InferenceParameters != nil || params == nil {
		return cfg.InferenceParameters, nil
	}
	name := cfg.ParamPrefix + inferenceParamsSuffix
	raw, found, err := params.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parsed, err := config.ParseParameters(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parameter %s", name)
	}
	return parsed, nil
}

func openStore(cfg config.Config, awsCfg aws.Config) (repository.Appender, func(), error) {
	if cfg.StoreBackend == config.BackendSQLite {
		s, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	c, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.MessagesTable)
	if err != nil {
		return nil, nil, err
	}
	return c, func() {}, nil
}

// buildHandler wires the chat endpoint. The returned func releases the store.
func buildHandler(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (*handler.Handler, func(), error) {
	if err := cfg.ValidateChat(); err != nil {
		return nil, nil, err
	}
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	params, err := newParamStore(awsCfg, cfg)
	if err != nil {
		return nil, nil, err
	}

	defaults, err := inferenceParameters(ctx, cfg, asLookuper(params))
	if err != nil {
		return nil, nil, errors.Wrap(err, "load inference parameters")
	}

	verifier, err := firebase.NewVerifier(ctx, cfg.FirebaseProjectID)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := openStore(cfg, awsCfg)
	if err != nil {
		return nil, nil, err
	}

	svc, err := usecase.NewChatService(verifier, newInferenceClient(cfg, params, log), store,
		usecase.WithMaxTextLength(cfg.MaxTextLength),
		usecase.WithInferenceParameters(defaults),
		usecase.WithLogger(log),
	)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	h, err := handler.NewHandler(svc, log)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return h, closeStore, nil
}
