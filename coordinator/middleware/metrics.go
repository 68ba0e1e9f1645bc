package middleware

import (
	"context"
	"time"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/coordinator"
	"github.com/absmach/federate/pkg/fl"
	"github.com/go-kit/kit/metrics"
)

var _ coordinator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     coordinator.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc coordinator.Service) coordinator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) observe(method string, begin time.Time) {
	mm.counter.With("method", method).Add(1)
	mm.latency.With("method", method).Observe(time.Since(begin).Seconds())
}

func (mm *metricsMiddleware) Register(ctx context.Context, d client.Descriptor) (client.Descriptor, error) {
	defer mm.observe("register-client", time.Now())

	return mm.svc.Register(ctx, d)
}

func (mm *metricsMiddleware) Deregister(ctx context.Context, clientID string) error {
	defer mm.observe("deregister-client", time.Now())

	return mm.svc.Deregister(ctx, clientID)
}

func (mm *metricsMiddleware) Heartbeat(ctx context.Context, clientID string) (client.Descriptor, error) {
	defer mm.observe("heartbeat", time.Now())

	return mm.svc.Heartbeat(ctx, clientID)
}

func (mm *metricsMiddleware) GetClient(ctx context.Context, clientID string) (client.Descriptor, error) {
	defer mm.observe("get-client", time.Now())

	return mm.svc.GetClient(ctx, clientID)
}

func (mm *metricsMiddleware) ListClients(ctx context.Context, offset, limit uint64) (client.Page, error) {
	defer mm.observe("list-clients", time.Now())

	return mm.svc.ListClients(ctx, offset, limit)
}

func (mm *metricsMiddleware) GetTask(ctx context.Context, clientID string) (client.TrainRequest, error) {
	defer mm.observe("get-task", time.Now())

	return mm.svc.GetTask(ctx, clientID)
}

func (mm *metricsMiddleware) GetGlobalModel(ctx context.Context) (fl.ParameterSet, error) {
	defer mm.observe("get-global-model", time.Now())

	return mm.svc.GetGlobalModel(ctx)
}

func (mm *metricsMiddleware) SubmitUpdate(ctx context.Context, u fl.Update) (coordinator.Ack, error) {
	defer mm.observe("submit-update", time.Now())

	return mm.svc.SubmitUpdate(ctx, u)
}

func (mm *metricsMiddleware) SubmitUpdateCBOR(ctx context.Context, data []byte) (coordinator.Ack, error) {
	defer mm.observe("submit-update-cbor", time.Now())

	return mm.svc.SubmitUpdateCBOR(ctx, data)
}

func (mm *metricsMiddleware) ReportFailure(ctx context.Context, clientID string, round uint64, reason string) (coordinator.Ack, error) {
	defer mm.observe("report-failure", time.Now())

	return mm.svc.ReportFailure(ctx, clientID, round, reason)
}

func (mm *metricsMiddleware) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	defer mm.observe("list-rounds", time.Now())

	return mm.svc.ListRounds(ctx, offset, limit)
}

func (mm *metricsMiddleware) GetRound(ctx context.Context, roundID string) (fl.RoundRecord, error) {
	defer mm.observe("get-round", time.Now())

	return mm.svc.GetRound(ctx, roundID)
}

func (mm *metricsMiddleware) StartTraining(ctx context.Context) (coordinator.TrainingStatus, error) {
	defer mm.observe("start-training", time.Now())

	return mm.svc.StartTraining(ctx)
}

func (mm *metricsMiddleware) StopTraining(ctx context.Context) (coordinator.TrainingStatus, error) {
	defer mm.observe("stop-training", time.Now())

	return mm.svc.StopTraining(ctx)
}

func (mm *metricsMiddleware) TrainingStatus(ctx context.Context) (coordinator.TrainingStatus, error) {
	defer mm.observe("training-status", time.Now())

	return mm.svc.TrainingStatus(ctx)
}

func (mm *metricsMiddleware) Subscribe(ctx context.Context) error {
	defer mm.observe("subscribe", time.Now())

	return mm.svc.Subscribe(ctx)
}

func (mm *metricsMiddleware) Shutdown(ctx context.Context) error {
	defer mm.observe("shutdown", time.Now())

	return mm.svc.Shutdown(ctx)
}
