package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailingest/internal/imap"
)

func newStatusCmd() *cobra.Command {
	var mailbox string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the message count of a mailbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			acct, err := accountFromConfig(cfg)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("mailbox") {
				mailbox = cfg.Fetch.Mailbox
			}

			service := imap.NewService(newLogger(cfg, cmd.ErrOrStderr()))
			count, err := service.Status(cmd.Context(), acct, mailbox)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d messages\n", mailbox, count)
			return nil
		},
	}

	cmd.Flags().StringVar(&mailbox, "mailbox", "INBOX", "Mailbox name")

	return cmd
}
