// Package runner executes participant CLI subprocesses on behalf of the
// workflow engine, applying timeouts, retries, and output classification.
package runner

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/logging"
)

// Result is a participant's completed turn.
type Result struct {
	Output          string
	Verdict         core.ReviewVerdict
	NextAction      core.NextAction
	ReturnCode      int
	DurationSeconds float64
}

// LogCallback receives streamed output lines as a subprocess runs.
type LogCallback func(line string)

// Options configures a single Run call.
type Options struct {
	Participant      core.Participant
	Prompt           string
	WorkDir          string
	TimeoutSeconds   int
	Model            string
	ModelParams      string
	ClaudeTeamAgents bool
	OnOutput         LogCallback

	// ProviderCapabilityFlags overrides the builtin per-provider capability
	// table for this call — e.g. {"prompt_flag": true} forces argv-based
	// prompt delivery regardless of provider.
	ProviderCapabilityFlags map[string]bool
}

// Runner launches participant CLIs and classifies their output.
type Runner struct {
	table          *ProviderTable
	logger         *logging.Logger
	dryRun         bool
	timeoutRetries int
}

// New creates a Runner. timeoutRetries is the number of additional
// attempts made after the first one times out.
func New(table *ProviderTable, logger *logging.Logger, dryRun bool, timeoutRetries int) *Runner {
	if timeoutRetries < 0 {
		timeoutRetries = 0
	}
	return &Runner{table: table, logger: logger, dryRun: dryRun, timeoutRetries: timeoutRetries}
}

// Run executes a participant turn. On a classified runtime failure it
// returns a *core.DomainError with Category ErrCatRuntime; callers extract
// the reason via core.Reason(err).
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if r.dryRun {
		return r.dryRunResult(opts), nil
	}

	command, ok := r.table.Command(opts.Participant.Provider)
	if !ok || strings.TrimSpace(command) == "" {
		return nil, commandNotConfigured(opts.Participant.Provider)
	}

	base := shellSplit(command)
	argv := buildArgv(base, opts.Participant.Provider, opts.Model, opts.ClaudeTeamAgents)
	if strings.TrimSpace(opts.ModelParams) != "" {
		argv = append(argv, shellSplit(opts.ModelParams)...)
	}
	if resolved, err := exec.LookPath(argv[0]); err == nil {
		argv[0] = resolved
	}
	effectiveCommand := formatCommand(argv)
	promptViaArgv := PromptViaArgv(opts.Participant.Provider, opts.ProviderCapabilityFlags)

	attempts := r.timeoutRetries + 1
	prompt := opts.Prompt
	totalBudget := time.Duration(opts.TimeoutSeconds) * time.Second
	if totalBudget <= 0 {
		totalBudget = 900 * time.Second
	}

	started := time.Now()
	deadline := started.Add(totalBudget)
	var stdout, stderr bytes.Buffer
	var returnCode int
	var runErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		stdout.Reset()
		stderr.Reset()
		// Split what's left of the total budget evenly across the attempts
		// that remain, so a retry after a long first attempt doesn't get to
		// spend the full budget again.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, core.ErrRuntime(core.ReasonCommandTimeout, opts.Participant.Provider, effectiveCommand,
				"participant command timed out").WithDetail("timeout_seconds", opts.TimeoutSeconds).WithDetail("attempts", attempt-1)
		}
		attemptBudget := remaining / time.Duration(attempts-attempt+1)
		attemptCtx, cancel := context.WithTimeout(ctx, attemptBudget)
		attemptArgv := argv
		if promptViaArgv {
			attemptArgv = append(append([]string(nil), argv...), "--prompt", prompt)
		}
		cmd := exec.CommandContext(attemptCtx, attemptArgv[0], attemptArgv[1:]...)
		cmd.Dir = opts.WorkDir
		cmd.Env = os.Environ()
		if promptViaArgv {
			cmd.Stdin = strings.NewReader("")
		} else {
			cmd.Stdin = strings.NewReader(prompt)
		}
		if opts.OnOutput != nil {
			cmd.Stdout = io.MultiWriter(&stdout, newLineWriter(opts.OnOutput))
		} else {
			cmd.Stdout = &stdout
		}
		cmd.Stderr = &stderr
		configureProcAttr(cmd)

		runErr = cmd.Run()
		cancel()

		if runErr != nil {
			if attemptCtx.Err() == context.DeadlineExceeded {
				killProcessGroup(cmd)
				if attempt >= attempts {
					return nil, core.ErrRuntime(core.ReasonCommandTimeout, opts.Participant.Provider, effectiveCommand,
						"participant command timed out").WithDetail("timeout_seconds", opts.TimeoutSeconds).WithDetail("attempts", attempts)
				}
				prompt = clipPromptForRetry(prompt)
				if r.logger != nil {
					r.logger.Warn("participant_timeout_retry", "provider", opts.Participant.Provider, "attempt", attempt)
				}
				continue
			}
			if isCommandNotFound(runErr) {
				return nil, core.ErrRuntime(core.ReasonCommandNotFound, opts.Participant.Provider, effectiveCommand, runErr.Error())
			}
		}

		var exitErr *exec.ExitError
		if ee, ok2 := runErr.(*exec.ExitError); ok2 {
			exitErr = ee
			returnCode = exitErr.ExitCode()
		}
		break
	}

	output := strings.TrimSpace(stdout.String())
	if returnCode != 0 {
		stderrText := strings.TrimSpace(stderr.String())
		output = strings.TrimSpace(strings.Join([]string{output, stderrText}, "\n"))
	}

	if IsProviderLimitOutput(output) {
		return nil, core.ErrRuntime(core.ReasonProviderLimit, opts.Participant.Provider, effectiveCommand, "provider reported a quota/rate/capacity limit")
	}

	elapsed := time.Since(started).Seconds()
	return &Result{
		Output:          output,
		Verdict:         ParseVerdict(output),
		NextAction:      ParseNextAction(output),
		ReturnCode:      returnCode,
		DurationSeconds: elapsed,
	}, nil
}

func (r *Runner) dryRunResult(opts Options) *Result {
	simulated := "[dry-run participant=" + opts.Participant.String() + "]\n" +
		"VERDICT: NO_BLOCKER\n" +
		"NEXT_ACTION: pass\n" +
		"Simulated output for orchestration smoke testing."
	return &Result{
		Output:          simulated,
		Verdict:         core.VerdictNoBlocker,
		NextAction:      core.NextActionPass,
		ReturnCode:      0,
		DurationSeconds: 0.01,
	}
}

func isCommandNotFound(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*exec.Error); ok {
		return true
	}
	return strings.Contains(err.Error(), "executable file not found") || strings.Contains(err.Error(), "no such file or directory")
}
