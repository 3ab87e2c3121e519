// Package gate implements the Gate Evaluator: it collapses test/lint
// results and reviewer verdicts into a single pass/fail reason.
package gate

import "github.com/awe-dev/agentcheck/internal/core"

// Outcome is the deterministic pass/fail decision for one round.
type Outcome struct {
	Passed bool
	Reason string
}

// Evaluate applies the first matching rule, in order: tests failed → lint
// failed → any BLOCKER verdict → any UNKNOWN verdict → no verdicts at all →
// otherwise passed.
func Evaluate(testsOK, lintOK bool, verdicts []core.ReviewVerdict) Outcome {
	if !testsOK {
		return Outcome{Passed: false, Reason: core.ReasonTestsFailed}
	}
	if !lintOK {
		return Outcome{Passed: false, Reason: core.ReasonLintFailed}
	}
	if len(verdicts) == 0 {
		return Outcome{Passed: false, Reason: core.ReasonReviewMissing}
	}
	for _, v := range verdicts {
		if v == core.VerdictBlocker {
			return Outcome{Passed: false, Reason: core.ReasonReviewBlocker}
		}
	}
	for _, v := range verdicts {
		if v == core.VerdictUnknown {
			return Outcome{Passed: false, Reason: core.ReasonReviewUnknown}
		}
	}
	return Outcome{Passed: true, Reason: core.ReasonPassed}
}
