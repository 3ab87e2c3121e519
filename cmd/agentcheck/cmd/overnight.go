package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/awe-dev/agentcheck/internal/automation"
	"github.com/awe-dev/agentcheck/internal/core"
)

// corpusEntry is the on-disk shape of one --corpus JSON entry. It mirrors
// automation.TaskSpec; an empty ID is derived from the entry's position.
type corpusEntry struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	ProjectPath   string `json:"project_path"`
	WorkspacePath string `json:"workspace_path"`
	TestCommand   string `json:"test_command"`
	LintCommand   string `json:"lint_command"`
	MaxRounds     int    `json:"max_rounds"`
	SandboxMode   bool   `json:"sandbox_mode"`
	AutoMerge     bool   `json:"auto_merge"`
}

var overnightFlags struct {
	corpusPath        string
	primaryAuthor     string
	primaryReviewers  []string
	fallbackAuthor    string
	fallbackReviewers []string
}

var overnightCmd = &cobra.Command{
	Use:   "overnight",
	Short: "Run a corpus of tasks to completion under single-instance locking",
	Long: `Acquires the automation lock, submits every corpus task
under the primary participant pool, and polls until all tasks reach a
terminal status — switching to the fallback pool on classified provider
failures and switching back to the primary pool when a codex participant
fails with a command timeout, a missing command, or a provider limit.`,
	RunE: runOvernight,
}

func init() {
	rootCmd.AddCommand(overnightCmd)
	overnightCmd.Flags().StringVar(&overnightFlags.corpusPath, "corpus", "", "path to a JSON array of corpus task specs (required)")
	overnightCmd.Flags().StringVar(&overnightFlags.primaryAuthor, "primary-author", "", "primary pool author participant (required)")
	overnightCmd.Flags().StringSliceVar(&overnightFlags.primaryReviewers, "primary-reviewer", nil, "primary pool reviewer participant (repeatable, required)")
	overnightCmd.Flags().StringVar(&overnightFlags.fallbackAuthor, "fallback-author", "", "fallback pool author participant (required)")
	overnightCmd.Flags().StringSliceVar(&overnightFlags.fallbackReviewers, "fallback-reviewer", nil, "fallback pool reviewer participant (repeatable, required)")

	_ = overnightCmd.MarkFlagRequired("corpus")
	_ = overnightCmd.MarkFlagRequired("primary-author")
	_ = overnightCmd.MarkFlagRequired("primary-reviewer")
	_ = overnightCmd.MarkFlagRequired("fallback-author")
	_ = overnightCmd.MarkFlagRequired("fallback-reviewer")
}

func runOvernight(_ *cobra.Command, _ []string) error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	release, err := automation.AcquireSingleInstance(d.cfg.Automation.LockPath)
	if err != nil {
		return err
	}
	defer release()

	specs, err := loadCorpus(overnightFlags.corpusPath)
	if err != nil {
		return err
	}

	primary, err := buildPool(overnightFlags.primaryAuthor, overnightFlags.primaryReviewers)
	if err != nil {
		return fmt.Errorf("primary pool: %w", err)
	}
	fallback, err := buildPool(overnightFlags.fallbackAuthor, overnightFlags.fallbackReviewers)
	if err != nil {
		return fmt.Errorf("fallback pool: %w", err)
	}

	switcher := automation.NewPoolSwitcher(primary, fallback, d.cfg.Automation.FallbackCooldown)
	driver := automation.New(d.service, d.repo, switcher, d.cfg.Automation.PollInterval, d.logger)

	results, err := driver.RunCorpus(context.Background(), specs)
	if err != nil {
		return err
	}

	passed := 0
	for _, task := range results {
		if task != nil && task.Status == core.TaskStatusPassed {
			passed++
		}
	}
	fmt.Printf("overnight run complete: %d/%d tasks passed\n", passed, len(results))
	return nil
}

func loadCorpus(path string) ([]automation.TaskSpec, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied corpus path
	if err != nil {
		return nil, fmt.Errorf("reading corpus file: %w", err)
	}
	var entries []corpusEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing corpus file: %w", err)
	}

	specs := make([]automation.TaskSpec, len(entries))
	for i, e := range entries {
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("corpus-%d", i)
		}
		specs[i] = automation.TaskSpec{
			ID:            core.TaskID(id),
			Title:         e.Title,
			Description:   e.Description,
			ProjectPath:   e.ProjectPath,
			WorkspacePath: e.WorkspacePath,
			TestCommand:   e.TestCommand,
			LintCommand:   e.LintCommand,
			MaxRounds:     e.MaxRounds,
			SandboxMode:   e.SandboxMode,
			AutoMerge:     e.AutoMerge,
		}
	}
	return specs, nil
}

func buildPool(author string, reviewers []string) (automation.ParticipantPool, error) {
	a, err := core.ParseParticipant(author)
	if err != nil {
		return automation.ParticipantPool{}, err
	}
	rs := make([]core.Participant, len(reviewers))
	for i, r := range reviewers {
		p, err := core.ParseParticipant(r)
		if err != nil {
			return automation.ParticipantPool{}, err
		}
		rs[i] = p
	}
	return automation.ParticipantPool{Author: a, Reviewers: rs}, nil
}
