package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/prompts"
	"github.com/sells-group/seo-pipeline/internal/provider"
)

var (
	promptSystemFile string
	promptUserFile   string
	promptProvider   string
	promptModel      string
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Inspect and override task prompts",
}

var promptsShowCmd = &cobra.Command{
	Use:   "show <task>",
	Short: "Print the built-in templates of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task := model.Task(args[0])
		if !task.Valid() {
			return eris.Errorf("unknown task %q", args[0])
		}
		d := prompts.Default(task)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# system\n%s\n\n# user\n%s\n", d.System, d.User)
		return nil
	},
}

var promptsSetCmd = &cobra.Command{
	Use:   "set <task>",
	Short: "Store a prompt/provider override for a task",
	Long:  "Replaces the stored override of a task. Flags left empty fall back to the built-in defaults.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		po, err := buildOverride(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpsertPromptOverride(cmd.Context(), po); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "override stored for %s\n", po.Task)
		return nil
	},
}

func buildOverride(taskName string) (model.PromptConfig, error) {
	task := model.Task(taskName)
	if !task.Valid() {
		return model.PromptConfig{}, eris.Errorf("unknown task %q", taskName)
	}
	if promptProvider != "" && !provider.Kind(promptProvider).Valid() {
		return model.PromptConfig{}, eris.Errorf("unknown provider %q", promptProvider)
	}
	po := model.PromptConfig{
		Task:      task,
		Provider:  promptProvider,
		Model:     promptModel,
		UpdatedAt: time.Now().UTC(),
	}
	var err error
	if po.SystemPrompt, err = readOptional(promptSystemFile); err != nil {
		return model.PromptConfig{}, err
	}
	if po.UserPrompt, err = readOptional(promptUserFile); err != nil {
		return model.PromptConfig{}, err
	}
	return po, nil
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "read %s", path)
	}
	return string(b), nil
}

func init() {
	promptsSetCmd.Flags().StringVar(&promptSystemFile, "system-file", "", "file holding the system prompt template")
	promptsSetCmd.Flags().StringVar(&promptUserFile, "user-file", "", "file holding the user prompt template")
	promptsSetCmd.Flags().StringVar(&promptProvider, "provider", "", "provider kind for this task")
	promptsSetCmd.Flags().StringVar(&promptModel, "model", "", "model id for this task")
	promptsCmd.AddCommand(promptsShowCmd, promptsSetCmd)
	rootCmd.AddCommand(promptsCmd)
}
