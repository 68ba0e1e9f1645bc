package fl_test

import (
	"testing"

	"github.com/absmach/federate/pkg/fl"
	"github.com/stretchr/testify/assert"
)

func completed(losses ...float64) []fl.RoundRecord {
	records := make([]fl.RoundRecord, len(losses))
	for i, l := range losses {
		records[i] = fl.RoundRecord{
			Round:         uint64(i + 1),
			Outcome:       fl.Completed,
			AggregateLoss: l,
		}
	}

	return records
}

func TestConvergencePolicyEvaluate(t *testing.T) {
	cases := []struct {
		desc    string
		policy  fl.ConvergencePolicy
		history []fl.RoundRecord
		reason  fl.StopReason
	}{
		{
			desc:    "empty history",
			policy:  fl.ConvergencePolicy{MaxRounds: 3, Epsilon: 0.01, Patience: 1},
			history: nil,
			reason:  fl.StopNone,
		},
		{
			desc:    "first plateau round only opens the window",
			policy:  fl.ConvergencePolicy{MaxRounds: 3, Epsilon: 0.01, Patience: 1},
			history: completed(1.00, 0.995),
			reason:  fl.StopNone,
		},
		{
			desc:    "max rounds takes precedence",
			policy:  fl.ConvergencePolicy{MaxRounds: 3, Epsilon: 0.01, Patience: 1},
			history: completed(1.00, 0.995, 0.994),
			reason:  fl.StopMaxRounds,
		},
		{
			desc:    "converged before max rounds",
			policy:  fl.ConvergencePolicy{MaxRounds: 10, Epsilon: 0.01, Patience: 1},
			history: completed(1.00, 0.995, 0.994),
			reason:  fl.StopConverged,
		},
		{
			desc:    "zero patience stops on the first plateau",
			policy:  fl.ConvergencePolicy{MaxRounds: 10, Epsilon: 0.01, Patience: 0},
			history: completed(1.00, 0.995),
			reason:  fl.StopConverged,
		},
		{
			desc:    "large move resets the streak",
			policy:  fl.ConvergencePolicy{MaxRounds: 10, Epsilon: 0.01, Patience: 1},
			history: completed(1.00, 0.999, 0.998, 0.5),
			reason:  fl.StopNone,
		},
		{
			desc:    "loss increase counts by magnitude",
			policy:  fl.ConvergencePolicy{MaxRounds: 10, Epsilon: 0.01, Patience: 0},
			history: completed(1.00, 1.20),
			reason:  fl.StopNone,
		},
		{
			desc:   "aborted attempts are ignored",
			policy: fl.ConvergencePolicy{MaxRounds: 10, Epsilon: 0.01, Patience: 0},
			history: []fl.RoundRecord{
				{Round: 1, Outcome: fl.Completed, AggregateLoss: 1.0},
				{Round: 2, Attempt: 0, Outcome: fl.AbortedQuorum},
				{Round: 2, Attempt: 1, Outcome: fl.Completed, AggregateLoss: 0.5},
			},
			reason: fl.StopNone,
		},
		{
			desc:    "zero epsilon never converges",
			policy:  fl.ConvergencePolicy{MaxRounds: 10, Epsilon: 0, Patience: 0},
			history: completed(1, 1, 1),
			reason:  fl.StopNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.reason, tc.policy.Evaluate(tc.history))
		})
	}
}
