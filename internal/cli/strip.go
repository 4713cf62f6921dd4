package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mailingest/internal/email"
)

func newStripCmd() *cobra.Command {
	var (
		isHTML bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "strip [file]",
		Short: "Remove quoted reply history from a message body",
		Long:  "Reads the body from file, or from stdin when no file is given, and prints it without quoted history.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			result := email.StripQuotes(body, isHTML)
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Content)
			return nil
		},
	}

	cmd.Flags().BoolVar(&isHTML, "html", false, "Treat the input as HTML")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print content, isCleaned and original as JSON")

	return cmd
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", err
	}
	return string(data), nil
}
