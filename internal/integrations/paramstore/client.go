package paramstore

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/pkg/errors"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Lookuper resolves optional parameters. found is false when the parameter
// does not exist; err is reserved for real failures.
type Lookuper interface {
	Lookup(ctx context.Context, name string) (value string, found bool, err error)
}

var _ Lookuper = (*Client)(nil)

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// Lookup returns the decrypted value of name. A parameter that does not
// exist is reported with found=false and no error.
func (c *Client) Lookup(ctx context.Context, name string) (string, bool, error) {
	if c.api == nil {
		return "", false, errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, errors.New("paramstore: name is required")
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "paramstore: get parameter %q", name)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", false, errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, true, nil
}
