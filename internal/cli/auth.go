package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mailingest/internal/config"
	"mailingest/internal/secrets"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication and config setup",
	}
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		host     string
		port     int
		useTLS   bool
		insecure bool
		driver   string

		username      string
		password      string
		passwordStdin bool
		inConfig      bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store IMAP settings in the config file and the password in the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("host") {
				cfg.IMAP.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.IMAP.Port = port
			}
			if cmd.Flags().Changed("tls") {
				cfg.IMAP.TLS = useTLS
			}
			if cmd.Flags().Changed("insecure") {
				cfg.IMAP.InsecureSkipVerify = insecure
			}
			if cmd.Flags().Changed("driver") {
				cfg.IMAP.Driver = driver
			}
			if cmd.Flags().Changed("username") {
				cfg.Auth.Username = username
			}

			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password from stdin: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return fmt.Errorf("a password is required: use --password or --password-stdin")
			}

			check := cfg
			check.Auth.Password = password
			check.Auth.PasswordEncoding = config.EncodingPlain
			if err := config.ValidateIMAP(check); err != nil {
				return err
			}

			if inConfig {
				cfg.Auth.Password = password
				cfg.Auth.PasswordEncoding = config.EncodingPlain
			} else {
				if err := secrets.SetPassword(cfg.IMAP.Host, cfg.Auth.Username, password); err != nil {
					return err
				}
				cfg.Auth.Password = ""
				fmt.Fprintf(cmd.OutOrStdout(), "Password stored in keyring for %s@%s\n", cfg.Auth.Username, cfg.IMAP.Host)
			}

			path, err := config.Save(cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "IMAP host")
	cmd.Flags().IntVar(&port, "port", 0, "IMAP port")
	cmd.Flags().BoolVar(&useTLS, "tls", true, "Use implicit TLS")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	cmd.Flags().StringVar(&driver, "driver", "", "IMAP driver: native or library")
	cmd.Flags().StringVar(&username, "username", "", "Username")
	cmd.Flags().StringVar(&password, "password", "", "Password or app password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from the first line of stdin")
	cmd.Flags().BoolVar(&inConfig, "store-in-config", false, "Write the password to the config file instead of the keyring")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored password from the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := secrets.DeletePassword(cfg.IMAP.Host, cfg.Auth.Username); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password removed for %s@%s\n", cfg.Auth.Username, cfg.IMAP.Host)
			return nil
		},
	}
}
