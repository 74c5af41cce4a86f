package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"echochat/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool
	rootCmd := &cobra.Command{
		Use:           "echochat",
		Short:         "Chat endpoint backed by a SageMaker inference endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(debug)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			h, closeStore, err := buildHandler(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			log.Infow("starting lambda handler", "store", cfg.StoreBackend)
			lambda.Start(h.Handle)
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable development logging (also DEBUG=true)")
	rootCmd.AddCommand(newServeCmd(&debug), newInvokeCmd(&debug))
	return rootCmd
}

// setup loads the environment and builds the logger shared by every command.
func setup(debug bool) (config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := newLogger(debug || cfg.Debug)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, errors.Wrap(err, "init logger")
	}
	return logger.Sugar(), nil
}
