/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yofarm-hub/ussd/internal/server"
	"github.com/yofarm-hub/ussd/internal/services"
	"github.com/yofarm-hub/ussd/internal/worker"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Reconciles queued payment notifications",
	Long: `Consumes payment notifications queued by the webhook and applies them
to user records. Requires MQ_BACKEND. Usage:

	yofarm worker
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		if cfg.MQ.Backend == "" {
			return errors.New("MQ_BACKEND is required for the worker")
		}

		deps, err := server.Build(cmd.Context(), cfg, log)
		if err != nil {
			log.Error("failed to connect backends", zap.Error(err))
			return err
		}
		defer func() { _ = deps.Close() }()

		payments := services.NewPaymentService(deps.Users, deps.Gateway, deps.Menu, log)
		return worker.New(deps.Queue, payments, log).Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
