package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/awe-dev/agentcheck/internal/automation"
)

var benchmarkFlags struct {
	corpusPath     string
	author         string
	reviewers      []string
	maxRoundsA     int
	maxRoundsB     int
	sandboxModeA   bool
	sandboxModeB   bool
	autoMergeA     bool
	autoMergeB     bool
}

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Run the same task corpus under two policy variants and report the delta",
	RunE:  runBenchmark,
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)
	benchmarkCmd.Flags().StringVar(&benchmarkFlags.corpusPath, "corpus", "", "path to a JSON array of corpus task specs (required)")
	benchmarkCmd.Flags().StringVar(&benchmarkFlags.author, "author", "", "author participant shared by both variants (required)")
	benchmarkCmd.Flags().StringSliceVar(&benchmarkFlags.reviewers, "reviewer", nil, "reviewer participant, repeatable (required)")
	benchmarkCmd.Flags().IntVar(&benchmarkFlags.maxRoundsA, "a-max-rounds", 1, "variant A max_rounds")
	benchmarkCmd.Flags().IntVar(&benchmarkFlags.maxRoundsB, "b-max-rounds", 3, "variant B max_rounds")
	benchmarkCmd.Flags().BoolVar(&benchmarkFlags.sandboxModeA, "a-sandbox", false, "variant A sandbox_mode")
	benchmarkCmd.Flags().BoolVar(&benchmarkFlags.sandboxModeB, "b-sandbox", true, "variant B sandbox_mode")
	benchmarkCmd.Flags().BoolVar(&benchmarkFlags.autoMergeA, "a-auto-merge", false, "variant A auto_merge")
	benchmarkCmd.Flags().BoolVar(&benchmarkFlags.autoMergeB, "b-auto-merge", false, "variant B auto_merge")

	_ = benchmarkCmd.MarkFlagRequired("corpus")
	_ = benchmarkCmd.MarkFlagRequired("author")
	_ = benchmarkCmd.MarkFlagRequired("reviewer")
}

func runBenchmark(_ *cobra.Command, _ []string) error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	corpus, err := loadCorpus(benchmarkFlags.corpusPath)
	if err != nil {
		return err
	}

	pool, err := buildPool(benchmarkFlags.author, benchmarkFlags.reviewers)
	if err != nil {
		return err
	}

	switcher := automation.NewPoolSwitcher(pool, pool, d.cfg.Automation.FallbackCooldown)
	driver := automation.New(d.service, d.repo, switcher, d.cfg.Automation.PollInterval, d.logger)
	bench := automation.NewBenchmarkDriver(driver)

	policyA := automation.VariantPolicy{
		MaxRounds:   benchmarkFlags.maxRoundsA,
		SandboxMode: benchmarkFlags.sandboxModeA,
		AutoMerge:   benchmarkFlags.autoMergeA,
	}
	policyB := automation.VariantPolicy{
		MaxRounds:   benchmarkFlags.maxRoundsB,
		SandboxMode: benchmarkFlags.sandboxModeB,
		AutoMerge:   benchmarkFlags.autoMergeB,
	}

	report, err := bench.Run(context.Background(), corpus, policyA, policyB)
	if err != nil {
		return err
	}
	fmt.Println(report)
	return nil
}
