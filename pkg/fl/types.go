package fl

import "time"

// Update is one client's locally trained contribution to a round.
type Update struct {
	ClientID    string             `json:"client_id"           cbor:"1,keyasint"`
	Round       uint64             `json:"round"               cbor:"2,keyasint"`
	Params      ParameterSet       `json:"params"              cbor:"3,keyasint"`
	DatasetSize uint64             `json:"dataset_size"        cbor:"4,keyasint"`
	Loss        float64            `json:"loss"                cbor:"5,keyasint"`
	Metrics     map[string]float64 `json:"metrics,omitempty"   cbor:"6,keyasint,omitempty"`
	Duration    time.Duration      `json:"duration,omitempty"  cbor:"7,keyasint,omitempty"`
	ReceivedAt  time.Time          `json:"received_at"         cbor:"-"`
}

type Outcome uint8

const (
	Completed Outcome = iota + 1
	AbortedQuorum
	AbortedError
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case AbortedQuorum:
		return "aborted_quorum"
	case AbortedError:
		return "aborted_error"
	default:
		return "unknown"
	}
}

type StopReason string

const (
	StopNone             StopReason = ""
	StopMaxRounds        StopReason = "max_rounds"
	StopConverged        StopReason = "converged"
	StopRetriesExhausted StopReason = "retries_exhausted"
	StopCancelled        StopReason = "cancelled"
)

// RoundRecord is the immutable history entry of one round attempt.
type RoundRecord struct {
	ID               string             `json:"id"`
	Round            uint64             `json:"round"`
	Attempt          uint64             `json:"attempt"`
	BaseVersion      uint64             `json:"base_version"`
	ResultVersion    uint64             `json:"result_version"`
	Selected         []string           `json:"selected"`
	Submitted        []string           `json:"submitted"`
	Excluded         map[string]string  `json:"excluded,omitempty"`
	Statuses         map[string]string  `json:"statuses,omitempty"`
	TotalSamples     uint64             `json:"total_samples"`
	AggregateLoss    float64            `json:"aggregate_loss"`
	AggregateMetrics map[string]float64 `json:"aggregate_metrics,omitempty"`
	EvalLoss         *float64           `json:"eval_loss,omitempty"`
	Outcome          Outcome            `json:"outcome"`
	Error            string             `json:"error,omitempty"`
	StopReason       StopReason         `json:"stop_reason,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	FinishedAt       time.Time          `json:"finished_at"`
}

type RoundPage struct {
	Offset uint64        `json:"offset"`
	Limit  uint64        `json:"limit"`
	Total  uint64        `json:"total"`
	Rounds []RoundRecord `json:"rounds"`
}
