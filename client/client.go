package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/absmach/federate/pkg/fl"
)

type Status uint8

const (
	Available Status = iota
	Selected
	Training
	Submitted
	TimedOut
	Failed
)

var statusNames = map[Status]string{
	Available: "available",
	Selected:  "selected",
	Training:  "training",
	Submitted: "submitted",
	TimedOut:  "timed_out",
	Failed:    "failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return "unknown"
}

func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}

	return Available, fmt.Errorf("unknown client status %q", s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	st, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = st

	return nil
}

// Descriptor is the coordinator's view of a participant.
type Descriptor struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	DatasetSize  uint64            `json:"dataset_size"`
	Status       Status            `json:"status"`
	Transport    string            `json:"transport,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
	LastSeen     time.Time         `json:"last_seen"`
}

// Live reports whether the client has been heard from within window. A zero
// window treats every registered client as live.
func (d Descriptor) Live(now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}

	return now.Sub(d.LastSeen) <= window
}

type Page struct {
	Offset  uint64       `json:"offset"`
	Limit   uint64       `json:"limit"`
	Total   uint64       `json:"total"`
	Clients []Descriptor `json:"clients"`
}

// TrainRequest is what a selected client receives for one round attempt.
type TrainRequest struct {
	Round       uint64          `json:"round"`
	Attempt     uint64          `json:"attempt"`
	Params      fl.ParameterSet `json:"params"`
	LocalEpochs uint64          `json:"local_epochs"`
	Deadline    time.Time       `json:"deadline"`
}

// Agent is the coordinator-side handle to one participant. Train must not
// block on the training itself; a returned error means dispatch failed.
type Agent interface {
	ID() string
	Train(ctx context.Context, req TrainRequest) (*Handle, error)
}

type EvalResult struct {
	ClientID    string             `json:"client_id"`
	Loss        float64            `json:"loss"`
	DatasetSize uint64             `json:"dataset_size"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// Evaluator is implemented by agents able to score a model on local data.
type Evaluator interface {
	Evaluate(ctx context.Context, params fl.ParameterSet) (EvalResult, error)
}

// Trainer runs local training on a private dataset.
type Trainer interface {
	Train(ctx context.Context, params fl.ParameterSet, epochs uint64) (TrainResult, error)
	Evaluate(ctx context.Context, params fl.ParameterSet) (EvalResult, error)
	DatasetSize() uint64
}

type TrainResult struct {
	Params  fl.ParameterSet
	Loss    float64
	Metrics map[string]float64
}
