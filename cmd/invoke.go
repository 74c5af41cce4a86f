package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newInvokeCmd(debug *bool) *cobra.Command {
	var (
		endpoint string
		params   []string
	)
	cmd := &cobra.Command{
		Use:   "invoke <prompt>",
		Short: "Send one prompt to the inference endpoint and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(args[0])
			if prompt == "" {
				return errors.New("prompt must not be empty")
			}
			cfg, log, err := setup(*debug)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			overrides, err := parseParamFlags(params)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			awsCfg, err := loadAWSConfig(ctx, cfg)
			if err != nil {
				return err
			}
			store, err := newParamStore(awsCfg, cfg)
			if err != nil {
				return err
			}
			defaults, err := inferenceParameters(ctx, cfg, asLookuper(store))
			if err != nil {
				return err
			}

			text, err := newInferenceClient(cfg, store, log).Invoke(ctx, prompt, mergeParams(defaults, overrides), endpoint)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Endpoint name (overrides AWS_SAGEMAKER_ENDPOINT_NAME)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Inference parameter as key=value; JSON values are decoded")
	return cmd
}

// parseParamFlags turns key=value pairs into inference parameters. A value
// that parses as JSON keeps its type, anything else is sent as a string.
func parseParamFlags(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errors.Errorf("invalid --param %q, want key=value", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
		} else {
			out[k] = v
		}
	}
	return out, nil
}

func mergeParams(base, overrides map[string]any) map[string]any {
	if len(base) == 0 {
		return overrides
	}
	if len(overrides) == 0 {
		return base
	}
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
