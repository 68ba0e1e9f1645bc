package mocks

import (
	"context"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/coordinator"
	"github.com/absmach/federate/pkg/fl"
	"github.com/stretchr/testify/mock"
)

var _ coordinator.Service = (*MockService)(nil)

// MockService is a mock implementation of the coordinator.Service interface.
type MockService struct {
	mock.Mock
}

func (m *MockService) Register(ctx context.Context, d client.Descriptor) (client.Descriptor, error) {
	args := m.Called(ctx, d)

	return args.Get(0).(client.Descriptor), args.Error(1)
}

func (m *MockService) Deregister(ctx context.Context, clientID string) error {
	args := m.Called(ctx, clientID)

	return args.Error(0)
}

func (m *MockService) Heartbeat(ctx context.Context, clientID string) (client.Descriptor, error) {
	args := m.Called(ctx, clientID)

	return args.Get(0).(client.Descriptor), args.Error(1)
}

func (m *MockService) GetClient(ctx context.Context, clientID string) (client.Descriptor, error) {
	args := m.Called(ctx, clientID)

	return args.Get(0).(client.Descriptor), args.Error(1)
}

func (m *MockService) ListClients(ctx context.Context, offset, limit uint64) (client.Page, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(client.Page), args.Error(1)
}

func (m *MockService) GetTask(ctx context.Context, clientID string) (client.TrainRequest, error) {
	args := m.Called(ctx, clientID)

	return args.Get(0).(client.TrainRequest), args.Error(1)
}

func (m *MockService) GetGlobalModel(ctx context.Context) (fl.ParameterSet, error) {
	args := m.Called(ctx)

	return args.Get(0).(fl.ParameterSet), args.Error(1)
}

func (m *MockService) SubmitUpdate(ctx context.Context, u fl.Update) (coordinator.Ack, error) {
	args := m.Called(ctx, u)

	return args.Get(0).(coordinator.Ack), args.Error(1)
}

func (m *MockService) SubmitUpdateCBOR(ctx context.Context, data []byte) (coordinator.Ack, error) {
	args := m.Called(ctx, data)

	return args.Get(0).(coordinator.Ack), args.Error(1)
}

func (m *MockService) ReportFailure(ctx context.Context, clientID string, round uint64, reason string) (coordinator.Ack, error) {
	args := m.Called(ctx, clientID, round, reason)

	return args.Get(0).(coordinator.Ack), args.Error(1)
}

func (m *MockService) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(fl.RoundPage), args.Error(1)
}

func (m *MockService) GetRound(ctx context.Context, roundID string) (fl.RoundRecord, error) {
	args := m.Called(ctx, roundID)

	return args.Get(0).(fl.RoundRecord), args.Error(1)
}

func (m *MockService) StartTraining(ctx context.Context) (coordinator.TrainingStatus, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.TrainingStatus), args.Error(1)
}

func (m *MockService) StopTraining(ctx context.Context) (coordinator.TrainingStatus, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.TrainingStatus), args.Error(1)
}

func (m *MockService) TrainingStatus(ctx context.Context) (coordinator.TrainingStatus, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.TrainingStatus), args.Error(1)
}

func (m *MockService) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockService) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
