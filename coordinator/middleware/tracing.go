package middleware

import (
	"context"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/coordinator"
	"github.com/absmach/federate/pkg/fl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ coordinator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    coordinator.Service
}

func Tracing(tracer trace.Tracer, svc coordinator.Service) coordinator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Register(ctx context.Context, d client.Descriptor) (client.Descriptor, error) {
	ctx, span := tm.tracer.Start(ctx, "register-client", trace.WithAttributes(
		attribute.String("id", d.ID),
		attribute.String("name", d.Name),
		attribute.Int64("dataset_size", int64(d.DatasetSize)),
	))
	defer span.End()

	return tm.svc.Register(ctx, d)
}

func (tm *tracing) Deregister(ctx context.Context, clientID string) error {
	ctx, span := tm.tracer.Start(ctx, "deregister-client", trace.WithAttributes(
		attribute.String("id", clientID),
	))
	defer span.End()

	return tm.svc.Deregister(ctx, clientID)
}

func (tm *tracing) Heartbeat(ctx context.Context, clientID string) (client.Descriptor, error) {
	ctx, span := tm.tracer.Start(ctx, "heartbeat", trace.WithAttributes(
		attribute.String("id", clientID),
	))
	defer span.End()

	return tm.svc.Heartbeat(ctx, clientID)
}

func (tm *tracing) GetClient(ctx context.Context, clientID string) (client.Descriptor, error) {
	ctx, span := tm.tracer.Start(ctx, "get-client", trace.WithAttributes(
		attribute.String("id", clientID),
	))
	defer span.End()

	return tm.svc.GetClient(ctx, clientID)
}

func (tm *tracing) ListClients(ctx context.Context, offset, limit uint64) (client.Page, error) {
	ctx, span := tm.tracer.Start(ctx, "list-clients", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListClients(ctx, offset, limit)
}

func (tm *tracing) GetTask(ctx context.Context, clientID string) (client.TrainRequest, error) {
	ctx, span := tm.tracer.Start(ctx, "get-task", trace.WithAttributes(
		attribute.String("client_id", clientID),
	))
	defer span.End()

	return tm.svc.GetTask(ctx, clientID)
}

func (tm *tracing) GetGlobalModel(ctx context.Context) (fl.ParameterSet, error) {
	ctx, span := tm.tracer.Start(ctx, "get-global-model")
	defer span.End()

	return tm.svc.GetGlobalModel(ctx)
}

func (tm *tracing) SubmitUpdate(ctx context.Context, u fl.Update) (coordinator.Ack, error) {
	ctx, span := tm.tracer.Start(ctx, "submit-update", trace.WithAttributes(
		attribute.String("client_id", u.ClientID),
		attribute.Int64("round", int64(u.Round)),
		attribute.Int64("dataset_size", int64(u.DatasetSize)),
	))
	defer span.End()

	return tm.svc.SubmitUpdate(ctx, u)
}

func (tm *tracing) SubmitUpdateCBOR(ctx context.Context, data []byte) (coordinator.Ack, error) {
	ctx, span := tm.tracer.Start(ctx, "submit-update-cbor", trace.WithAttributes(
		attribute.Int("size", len(data)),
	))
	defer span.End()

	return tm.svc.SubmitUpdateCBOR(ctx, data)
}

func (tm *tracing) ReportFailure(ctx context.Context, clientID string, round uint64, reason string) (coordinator.Ack, error) {
	ctx, span := tm.tracer.Start(ctx, "report-failure", trace.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Int64("round", int64(round)),
		attribute.String("reason", reason),
	))
	defer span.End()

	return tm.svc.ReportFailure(ctx, clientID, round, reason)
}

func (tm *tracing) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-rounds", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListRounds(ctx, offset, limit)
}

func (tm *tracing) GetRound(ctx context.Context, roundID string) (fl.RoundRecord, error) {
	ctx, span := tm.tracer.Start(ctx, "get-round", trace.WithAttributes(
		attribute.String("id", roundID),
	))
	defer span.End()

	return tm.svc.GetRound(ctx, roundID)
}

func (tm *tracing) StartTraining(ctx context.Context) (coordinator.TrainingStatus, error) {
	ctx, span := tm.tracer.Start(ctx, "start-training")
	defer span.End()

	return tm.svc.StartTraining(ctx)
}

func (tm *tracing) StopTraining(ctx context.Context) (coordinator.TrainingStatus, error) {
	ctx, span := tm.tracer.Start(ctx, "stop-training")
	defer span.End()

	return tm.svc.StopTraining(ctx)
}

func (tm *tracing) TrainingStatus(ctx context.Context) (coordinator.TrainingStatus, error) {
	ctx, span := tm.tracer.Start(ctx, "training-status")
	defer span.End()

	return tm.svc.TrainingStatus(ctx)
}

func (tm *tracing) Subscribe(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "subscribe")
	defer span.End()

	return tm.svc.Subscribe(ctx)
}

func (tm *tracing) Shutdown(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "shutdown")
	defer span.End()

	return tm.svc.Shutdown(ctx)
}
