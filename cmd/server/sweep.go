package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-pending",
		Short: "Run one expiry sweep over stale pending transactions and ended subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.scheduler.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("expiry sweep failed: %w", err)
			}
			a.logger.WithFields(logrus.Fields{
				"expired_transactions":  summary.ExpiredTransactions,
				"expired_subscriptions": summary.ExpiredSubscriptions,
			}).Info("Expiry sweep complete")
			return nil
		},
	}
}
