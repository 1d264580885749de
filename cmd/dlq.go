package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/seo-pipeline/internal/resilience"
)

var (
	dlqQueue string
	dlqType  string
	dlqLimit int
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect dead-lettered jobs",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs that exhausted their retries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListDLQ(cmd.Context(), resilience.DLQFilter{
			Queue:     dlqQueue,
			ErrorType: dlqType,
			Limit:     dlqLimit,
		})
		if err != nil {
			return err
		}
		formatDLQ(cmd.OutOrStdout(), entries)
		return nil
	},
}

func formatDLQ(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tQUEUE\tWEBSITE\tTYPE\tATTEMPTS\tERROR")
	for _, e := range entries {
		msg := e.Error
		if len(msg) > 80 {
			msg = msg[:77] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.Queue,
			truncateID(e.WebsiteID),
			e.ErrorType,
			e.Attempts,
			msg,
		)
	}
	_ = w.Flush()
}

func init() {
	dlqListCmd.Flags().StringVar(&dlqQueue, "queue", "", "filter by queue")
	dlqListCmd.Flags().StringVar(&dlqType, "type", "", "filter by error type (transient, permanent)")
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 50, "max entries")
	dlqCmd.AddCommand(dlqListCmd)
	rootCmd.AddCommand(dlqCmd)
}
