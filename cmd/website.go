package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/seo-pipeline/internal/model"
)

var (
	websiteID   string
	websiteURL  string
	websiteName string
)

var websiteCmd = &cobra.Command{
	Use:   "website",
	Short: "Manage websites",
}

var websiteAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register or update a website",
	RunE: func(cmd *cobra.Command, args []string) error {
		if websiteURL == "" {
			return eris.New("--url is required")
		}
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		id := websiteID
		if id == "" {
			id = uuid.NewString()
		}
		now := time.Now().UTC()
		if err := st.UpsertWebsite(cmd.Context(), model.Website{
			ID:        id,
			URL:       websiteURL,
			Name:      websiteName,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

func init() {
	websiteAddCmd.Flags().StringVar(&websiteID, "id", "", "website id (generated when empty)")
	websiteAddCmd.Flags().StringVar(&websiteURL, "url", "", "website URL")
	websiteAddCmd.Flags().StringVar(&websiteName, "name", "", "display name")
	websiteCmd.AddCommand(websiteAddCmd)
	rootCmd.AddCommand(websiteCmd)
}
