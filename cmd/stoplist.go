package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-enricher/internal/model"
)

var stoplistCmd = &cobra.Command{
	Use:   "stoplist",
	Short: "Manage the operator's own numbers and domains",
	Long:  "Numbers and domains on the stop list are never mined from the mailbox. Entries here are merged with the stoplists section of the config.",
}

var stoplistListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the effective stop lists",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stored, err := st.GetStopLists(ctx)
		if err != nil {
			return eris.Wrap(err, "stoplist list")
		}
		formatStopLists(os.Stdout, configStopLists(cfg), stored)
		return nil
	},
}

var stoplistAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add numbers or domains to the stored stop lists",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		phones, _ := cmd.Flags().GetStringSlice("phone")
		domains, _ := cmd.Flags().GetStringSlice("domain")
		if len(phones) == 0 && len(domains) == 0 {
			return eris.New("stoplist add: at least one --phone or --domain is required")
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.AddStopLists(ctx, model.StopLists{Phones: phones, Domains: domains}); err != nil {
			return eris.Wrap(err, "stoplist add")
		}
		fmt.Fprintf(os.Stderr, "Added %d phones and %d domains.\n", len(phones), len(domains))
		return nil
	},
}

func init() {
	stoplistAddCmd.Flags().StringSlice("phone", nil, "phone number to exclude (repeatable)")
	stoplistAddCmd.Flags().StringSlice("domain", nil, "sender domain to exclude (repeatable)")

	stoplistCmd.AddCommand(stoplistListCmd)
	stoplistCmd.AddCommand(stoplistAddCmd)
	rootCmd.AddCommand(stoplistCmd)
}

// formatStopLists writes each entry with the source it comes from.
func formatStopLists(out io.Writer, fromConfig, stored model.StopLists) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tVALUE\tSOURCE")
	_, _ = fmt.Fprintln(w, "----\t-----\t------")
	write := func(kind, source string, values []string) {
		for _, v := range values {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", kind, v, source)
		}
	}
	write("phone", "config", fromConfig.Phones)
	write("phone", "store", stored.Phones)
	write("domain", "config", fromConfig.Domains)
	write("domain", "store", stored.Domains)
	_ = w.Flush()
}
