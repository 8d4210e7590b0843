package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/store"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List staged contacts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := contactFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		contacts, err := st.ListContacts(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "contacts list")
		}
		if len(contacts) == 0 {
			fmt.Fprintln(os.Stderr, "No contacts found.")
			return nil
		}

		formatContactsList(os.Stdout, contacts)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Export staged contacts to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		filter, err := contactFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		contacts, err := st.ListContacts(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if err := store.WriteContactsXLSX(args[0], contacts); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d contacts to %s\n", len(contacts), args[0])
		return nil
	},
}

func contactFilterFromFlags(cmd *cobra.Command) (store.ContactFilter, error) {
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	filter := store.ContactFilter{Status: model.ContactStatus(status), Limit: limit, Offset: offset}
	if filter.Status != "" && !filter.Status.IsValid() {
		return filter, eris.Errorf("invalid status %q", status)
	}
	return filter, nil
}

func init() {
	contactsCmd.Flags().String("status", "", "filter by status (waiting, updated, already a number, not found, error)")
	contactsCmd.Flags().Int("limit", 100, "max number of contacts to display")
	contactsCmd.Flags().Int("offset", 0, "number of contacts to skip")

	exportCmd.Flags().String("status", "", "filter by status")
	exportCmd.Flags().Int("limit", 1<<20, "max number of contacts to export")
	exportCmd.Flags().Int("offset", 0, "number of contacts to skip")

	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(exportCmd)
}

// formatContactsList writes a tabular list of contacts to w.
func formatContactsList(out io.Writer, contacts []model.StagedContact) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EMAIL\tPHONE\tSTATUS\tUPDATED\tCREATED")
	_, _ = fmt.Fprintln(w, "-----\t-----\t------\t-------\t-------")
	for _, c := range contacts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.Email,
			c.Phone,
			c.Status,
			c.LastStatusUpdate.Format("2006-01-02 15:04"),
			c.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
