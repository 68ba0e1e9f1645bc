package fl

import "math"

// ConvergencePolicy decides when training stops. It looks only at completed
// rounds, so aborted attempts never influence the decision.
type ConvergencePolicy struct {
	MaxRounds uint64
	Epsilon   float64
	Patience  uint64
}

// Evaluate returns StopMaxRounds once the last completed round reaches
// MaxRounds. Otherwise it returns StopConverged when the trailing run of rounds
// whose loss moved by less than Epsilon is longer than Patience. The first
// plateau round opens the window and Patience further plateau rounds confirm it.
func (p ConvergencePolicy) Evaluate(history []RoundRecord) StopReason {
	losses := make([]float64, 0, len(history))
	var last uint64
	for _, r := range history {
		if r.Outcome != Completed {
			continue
		}
		losses = append(losses, r.AggregateLoss)
		last = r.Round
	}

	if len(losses) == 0 {
		return StopNone
	}
	if last >= p.MaxRounds {
		return StopMaxRounds
	}
	if p.Epsilon <= 0 {
		return StopNone
	}

	var streak uint64
	for i := len(losses) - 1; i > 0; i-- {
		if math.Abs(losses[i]-losses[i-1]) >= p.Epsilon {
			break
		}
		streak++
	}
	if streak > p.Patience {
		return StopConverged
	}

	return StopNone
}
