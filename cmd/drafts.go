package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/seo-pipeline/internal/export"
)

var (
	draftsDir   string
	draftsLimit int
)

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Work with generated article drafts",
}

var draftsExportCmd = &cobra.Command{
	Use:   "export <website-id>",
	Short: "Write a website's drafts as Markdown files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		drafts, err := st.ListArticleDrafts(cmd.Context(), args[0], draftsLimit)
		if err != nil {
			return err
		}
		paths, err := export.Drafts(draftsDir, drafts)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	draftsExportCmd.Flags().StringVar(&draftsDir, "dir", "drafts", "output directory")
	draftsExportCmd.Flags().IntVar(&draftsLimit, "limit", 0, "max drafts to export, newest first (0 = default)")
	draftsCmd.AddCommand(draftsExportCmd)
	rootCmd.AddCommand(draftsCmd)
}
