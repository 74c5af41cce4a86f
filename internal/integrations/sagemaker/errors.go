package sagemaker

import (
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
)

// ConfigurationError reports a required setting that could not be resolved.
// It is returned before any invocation is attempted.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sagemaker: resolve %s: %v", e.Setting, e.Err)
	}
	return fmt.Sprintf("sagemaker: missing %s", e.Setting)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// InferenceError is the single failure kind of Invoke. Message is safe to
// show to callers; Err keeps the cause for logs.
type InferenceError struct {
	Message string
	Err     error
}

func (e *InferenceError) Error() string { return e.Message }

func (e *InferenceError) Unwrap() error { return e.Err }

func invokeError(err error) *InferenceError {
	return &InferenceError{
		Message: "SageMaker invoke failed: " + serviceMessage(err),
		Err:     err,
	}
}

// serviceMessage prefers the message the service put in its error payload.
func serviceMessage(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if msg := strings.TrimSpace(apiErr.ErrorMessage()); msg != "" {
			return msg
		}
	}
	return err.Error()
}
