package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"mailingest/internal/ingest"
)

func printReport(out io.Writer, report *ingest.Report) {
	fmt.Fprintf(out, "Mailbox: %s (total %d, processed %d, skipped %d)\n",
		report.Mailbox, report.Total, len(report.Processed), len(report.Skipped))

	if len(report.Processed) > 0 {
		tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "UID\tDATE\tSTATUS\tCLEANED\tFROM\tSUBJECT")
		for _, msg := range report.Processed {
			date := ""
			if !msg.Date.IsZero() {
				date = msg.Date.Format(time.RFC3339)
			}
			cleaned := ""
			if msg.QuoteCleaned {
				cleaned = "yes"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", msg.UID, date, msg.Status, cleaned, msg.From, msg.Subject)
		}
		_ = tw.Flush()
	}

	if len(report.Skipped) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tUID\tREASON\tDETAIL")
		for _, skip := range report.Skipped {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", skip.Seq, skip.UID, skip.Reason, skip.Detail)
		}
		_ = tw.Flush()
	}
}
