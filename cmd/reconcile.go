package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/contact-enricher/internal/model"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Write staged phone numbers to Bullhorn",
	Long:  "Authenticates against Bullhorn, matches each waiting contact to a ClientContact or Lead, fills an empty phone field, and records the outcome.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if batch, _ := cmd.Flags().GetInt("batch"); batch > 0 {
			cfg.Reconcile.BatchSize = batch
		}
		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := newReconciler(st, initBullhorn(cfg), cfg).Run(ctx)
		if err != nil {
			return err
		}
		s := run.Stats.Statuses
		fmt.Fprintf(os.Stdout, "reconcile %s: %d contacts, %d updated, %d already a number, %d not found, %d error\n",
			truncateID(run.ID), run.Stats.Contacts,
			s[model.ContactStatusUpdated], s[model.ContactStatusAlreadyANumber],
			s[model.ContactStatusNotFound], s[model.ContactStatusError])
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Int("batch", 0, "max waiting contacts to process (default from config, 0 = all)")
	rootCmd.AddCommand(reconcileCmd)
}
