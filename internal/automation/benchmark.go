package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/awe-dev/agentcheck/internal/core"
)

// Variant names the two policy arms a benchmark run compares.
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// VariantPolicy is the set of TaskSpec overrides a benchmark variant
// applies on top of the shared corpus.
type VariantPolicy struct {
	MaxRounds   int
	SandboxMode bool
	AutoMerge   bool
}

// VariantStats aggregates terminal outcomes for one variant across the
// corpus.
type VariantStats struct {
	Total    int
	Passed   int
	Timeouts int
	Failed   int
}

// PassRate returns the fraction of tasks that reached status=passed.
func (s VariantStats) PassRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Total)
}

// BenchmarkDriver runs the same task corpus under two policy variants and
// aggregates a per-variant pass/timeout/failure report.
type BenchmarkDriver struct {
	Driver *Driver
}

// NewBenchmarkDriver creates a BenchmarkDriver over an existing Driver.
func NewBenchmarkDriver(d *Driver) *BenchmarkDriver {
	return &BenchmarkDriver{Driver: d}
}

// Run submits corpus under both variant policies and returns a markdown
// report comparing them.
func (b *BenchmarkDriver) Run(ctx context.Context, corpus []TaskSpec, policyA, policyB VariantPolicy) (string, error) {
	statsA, err := b.runVariant(ctx, corpus, VariantA, policyA)
	if err != nil {
		return "", err
	}
	statsB, err := b.runVariant(ctx, corpus, VariantB, policyB)
	if err != nil {
		return "", err
	}
	return renderReport(statsA, statsB), nil
}

func (b *BenchmarkDriver) runVariant(ctx context.Context, corpus []TaskSpec, variant Variant, policy VariantPolicy) (VariantStats, error) {
	specs := make([]TaskSpec, len(corpus))
	for i, spec := range corpus {
		s := spec
		s.ID = core.TaskID(fmt.Sprintf("%s-variant-%s", spec.ID, variant))
		s.MaxRounds = policy.MaxRounds
		s.SandboxMode = policy.SandboxMode
		s.AutoMerge = policy.AutoMerge
		specs[i] = s
	}

	results, err := b.Driver.RunCorpus(ctx, specs)
	if err != nil {
		return VariantStats{}, err
	}

	stats := VariantStats{Total: len(results)}
	for _, task := range results {
		if task == nil {
			continue
		}
		switch {
		case task.Status == core.TaskStatusPassed:
			stats.Passed++
		case strings.Contains(task.LastGateReason, core.ReasonCommandTimeout):
			stats.Timeouts++
		default:
			stats.Failed++
		}
	}
	return stats, nil
}

func renderReport(a, b VariantStats) string {
	var sb strings.Builder
	sb.WriteString("# Benchmark Report\n\n")
	sb.WriteString("| Variant | Total | Passed | Pass Rate | Timeouts | Failed |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	fmt.Fprintf(&sb, "| A | %d | %d | %.1f%% | %d | %d |\n", a.Total, a.Passed, a.PassRate()*100, a.Timeouts, a.Failed)
	fmt.Fprintf(&sb, "| B | %d | %d | %.1f%% | %d | %d |\n", b.Total, b.Passed, b.PassRate()*100, b.Timeouts, b.Failed)
	sb.WriteString("\n")
	delta := (b.PassRate() - a.PassRate()) * 100
	fmt.Fprintf(&sb, "**B - A pass rate delta:** %+.1f%%\n", delta)
	return sb.String()
}
