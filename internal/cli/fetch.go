package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mailingest/internal/imap"
	"mailingest/internal/ingest"
	"mailingest/internal/mbox"
)

func newFetchCmd() *cobra.Command {
	var (
		mailbox     string
		maxMessages int
		asJSON      bool
		reprocess   bool
		mboxPath    string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch, clean and store the most recent messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg, cmd.ErrOrStderr())

			var (
				acct imap.Account
				svc  *imap.Service
			)
			if mboxPath != "" {
				acct = imap.Account{Username: cfg.Auth.Username}
				if acct.Username == "" {
					acct.Username = "local"
				}
				svc = &imap.Service{Connector: mbox.Connector(mboxPath), Logger: log}
			} else {
				if acct, err = accountFromConfig(cfg); err != nil {
					return err
				}
				svc = imap.NewService(log)
			}

			in := ingest.New(svc, nil, log)
			if !dryRun {
				st, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer st.Close()
				in.Store = st

				arch, err := openArchive(cfg)
				if err != nil {
					return err
				}
				in.Archive = arch
			}

			if !cmd.Flags().Changed("mailbox") {
				mailbox = cfg.Fetch.Mailbox
			}
			if !cmd.Flags().Changed("max") {
				maxMessages = cfg.Fetch.MaxMessages
			}

			report, err := in.Run(cmd.Context(), ingest.Request{
				Account:     acct,
				Mailbox:     mailbox,
				MaxMessages: maxMessages,
				Reprocess:   reprocess,
			})
			if err != nil {
				var fatal *ingest.FatalError
				if errors.As(err, &fatal) && fatal.Hint != "" {
					return fmt.Errorf("%w\nhint: %s", err, fatal.Hint)
				}
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&mailbox, "mailbox", ingest.DefaultMailbox, "Mailbox name")
	cmd.Flags().IntVar(&maxMessages, "max", ingest.DefaultMaxMessages, "Number of most recent messages to scan")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&reprocess, "reprocess", false, "Store messages again even when already present")
	cmd.Flags().StringVar(&mboxPath, "mbox", "", "Read messages from an mbox file instead of IMAP")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Decode and report without storing or archiving")

	return cmd
}
