package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/seo-pipeline/internal/calllog"
	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/store"
)

var (
	callsWebsite string
	callsTask    string
	callsErrors  bool
	callsLimit   int
)

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Inspect the AI call log",
}

var callsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent provider calls with token and cost totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := store.CallLogFilter{
			WebsiteID: callsWebsite,
			Task:      model.Task(callsTask),
			Limit:     callsLimit,
		}
		if callsTask != "" && !filter.Task.Valid() {
			return eris.Errorf("unknown task %q", callsTask)
		}
		if callsErrors {
			filter.Status = model.CallStatusError
		}

		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListCallLogs(cmd.Context(), filter)
		if err != nil {
			return err
		}
		formatCallLogs(cmd.OutOrStdout(), entries)
		return nil
	},
}

// formatCallLogs writes a tabular list of entries followed by totals.
func formatCallLogs(out io.Writer, entries []model.AiCallLog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tWEBSITE\tTASK\tPROVIDER\tMODEL\tSTATUS\tTOKENS\tCOST")
	for _, e := range entries {
		tokens, cost := "-", "-"
		if e.Usage != nil {
			tokens = fmt.Sprintf("%d", e.Usage.TotalTokens)
			cost = fmt.Sprintf("%.6f", e.Usage.TotalCost)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			truncateID(e.WebsiteID),
			e.Task,
			e.Provider,
			e.Model,
			e.Status,
			tokens,
			cost,
		)
	}
	_ = w.Flush()

	t := calllog.Summarize(entries)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "\nCalls:\t%d\n", t.Calls)
	_, _ = fmt.Fprintf(w, "Errors:\t%d\n", t.Errors)
	_, _ = fmt.Fprintf(w, "Tokens:\t%d\n", t.Tokens)
	_, _ = fmt.Fprintf(w, "Cost (USD):\t%.6f\n", t.TotalCost)
	_ = w.Flush()
}

// truncateID shortens ids for table output.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	callsListCmd.Flags().StringVar(&callsWebsite, "website", "", "filter by website id")
	callsListCmd.Flags().StringVar(&callsTask, "task", "", "filter by task")
	callsListCmd.Flags().BoolVar(&callsErrors, "errors", false, "only failed calls")
	callsListCmd.Flags().IntVar(&callsLimit, "limit", 50, "max entries")
	callsCmd.AddCommand(callsListCmd)
	rootCmd.AddCommand(callsCmd)
}
