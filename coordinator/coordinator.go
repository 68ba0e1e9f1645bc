package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/federate/client"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
)

var (
	ErrTrainingInProgress = fmt.Errorf("a training run is already in progress: %w", pkgerrors.ErrConflict)
	ErrNoTrainingRun      = fmt.Errorf("no training run is in progress: %w", pkgerrors.ErrConflict)
)

// TrainingStatus describes the latest training run of a Service.
type TrainingStatus struct {
	ID         string        `json:"id,omitempty"`
	Running    bool          `json:"running"`
	Round      Snapshot      `json:"round"`
	Version    uint64        `json:"version"`
	StopReason fl.StopReason `json:"stop_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
}

type Service interface {
	Register(ctx context.Context, d client.Descriptor) (client.Descriptor, error)
	Deregister(ctx context.Context, clientID string) error
	Heartbeat(ctx context.Context, clientID string) (client.Descriptor, error)
	GetClient(ctx context.Context, clientID string) (client.Descriptor, error)
	ListClients(ctx context.Context, offset, limit uint64) (client.Page, error)

	// GetTask returns the outstanding training request of a pull-based client.
	GetTask(ctx context.Context, clientID string) (client.TrainRequest, error)
	GetGlobalModel(ctx context.Context) (fl.ParameterSet, error)
	SubmitUpdate(ctx context.Context, u fl.Update) (Ack, error)
	SubmitUpdateCBOR(ctx context.Context, data []byte) (Ack, error)
	ReportFailure(ctx context.Context, clientID string, round uint64, reason string) (Ack, error)

	ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error)
	GetRound(ctx context.Context, roundID string) (fl.RoundRecord, error)

	StartTraining(ctx context.Context) (TrainingStatus, error)
	StopTraining(ctx context.Context) (TrainingStatus, error)
	TrainingStatus(ctx context.Context) (TrainingStatus, error)

	Subscribe(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
