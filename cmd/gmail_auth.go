package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/contact-enricher/internal/mailbox"
)

var gmailAuthCmd = &cobra.Command{
	Use:   "gmail-auth",
	Short: "Authorize Gmail read access and cache the token",
	Long:  "Prints the Google consent URL, reads the authorization code from stdin, and writes the OAuth token to mailbox.gmail.token_file.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := mailbox.AuthorizeGmail(cmd.Context(), gmailConfig(cfg), os.Stdin, os.Stderr); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Token saved to %s\n", cfg.Mailbox.Gmail.TokenFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gmailAuthCmd)
}
