package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/awe-dev/agentcheck/internal/core"
)

func TestEvaluate_FirstMatchingRuleWins(t *testing.T) {
	cases := []struct {
		name     string
		testsOK  bool
		lintOK   bool
		verdicts []core.ReviewVerdict
		want     Outcome
	}{
		{
			name:    "tests failed wins over everything else",
			testsOK: false,
			lintOK:  false,
			verdicts: []core.ReviewVerdict{
				core.VerdictBlocker,
			},
			want: Outcome{Passed: false, Reason: core.ReasonTestsFailed},
		},
		{
			name:    "lint failed wins over review verdicts",
			testsOK: true,
			lintOK:  false,
			verdicts: []core.ReviewVerdict{
				core.VerdictNoBlocker,
			},
			want: Outcome{Passed: false, Reason: core.ReasonLintFailed},
		},
		{
			name:     "no verdicts at all",
			testsOK:  true,
			lintOK:   true,
			verdicts: nil,
			want:     Outcome{Passed: false, Reason: core.ReasonReviewMissing},
		},
		{
			name:    "a single blocker fails the round even among no_blocker verdicts",
			testsOK: true,
			lintOK:  true,
			verdicts: []core.ReviewVerdict{
				core.VerdictNoBlocker, core.VerdictBlocker, core.VerdictNoBlocker,
			},
			want: Outcome{Passed: false, Reason: core.ReasonReviewBlocker},
		},
		{
			name:    "unknown outranks passing once blockers are absent",
			testsOK: true,
			lintOK:  true,
			verdicts: []core.ReviewVerdict{
				core.VerdictNoBlocker, core.VerdictUnknown,
			},
			want: Outcome{Passed: false, Reason: core.ReasonReviewUnknown},
		},
		{
			name:    "all clear",
			testsOK: true,
			lintOK:  true,
			verdicts: []core.ReviewVerdict{
				core.VerdictNoBlocker, core.VerdictNoBlocker,
			},
			want: Outcome{Passed: true, Reason: core.ReasonPassed},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.testsOK, tc.lintOK, tc.verdicts)
			assert.Equal(t, tc.want, got)
		})
	}
}
