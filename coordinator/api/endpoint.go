package api

import (
	"context"
	"errors"

	"github.com/absmach/federate/coordinator"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func registerEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(registerReq)
		if !ok {
			return clientResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return clientResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		d, err := svc.Register(ctx, req.descriptor())
		if err != nil {
			return clientResponse{}, err
		}

		return clientResponse{
			Descriptor: d,
			created:    true,
		}, nil
	}
}

func listClientsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return clientsPageResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return clientsPageResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListClients(ctx, req.offset, req.limit)
		if err != nil {
			return clientsPageResponse{}, err
		}

		return clientsPageResponse{
			Page: page,
		}, nil
	}
}

func getClientEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return clientResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return clientResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		d, err := svc.GetClient(ctx, req.id)
		if err != nil {
			return clientResponse{}, err
		}

		return clientResponse{
			Descriptor: d,
		}, nil
	}
}

func deregisterEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return clientResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return clientResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.Deregister(ctx, req.id); err != nil {
			return clientResponse{}, err
		}

		return clientResponse{
			deleted: true,
		}, nil
	}
}

func heartbeatEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return clientResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return clientResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		d, err := svc.Heartbeat(ctx, req.id)
		if err != nil {
			return clientResponse{}, err
		}

		return clientResponse{
			Descriptor: d,
		}, nil
	}
}

func getTaskEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return taskResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return taskResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		task, err := svc.GetTask(ctx, req.id)
		if err != nil {
			return taskResponse{}, err
		}

		return taskResponse{
			TrainRequest: task,
		}, nil
	}
}

func getModelEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		ps, err := svc.GetGlobalModel(ctx)
		if err != nil {
			return modelResponse{}, err
		}

		return modelResponse{
			ParameterSet: ps,
		}, nil
	}
}

func submitUpdateEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(updateReq)
		if !ok {
			return ackResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return ackResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		ack, err := svc.SubmitUpdate(ctx, req.Update)
		if err != nil {
			return ackResponse{}, err
		}

		return ackResponse{
			Ack: ack,
		}, nil
	}
}

func submitUpdateCBOREndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(cborUpdateReq)
		if !ok {
			return ackResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return ackResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		ack, err := svc.SubmitUpdateCBOR(ctx, req.data)
		if err != nil {
			return ackResponse{}, err
		}

		return ackResponse{
			Ack: ack,
		}, nil
	}
}

func reportFailureEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(failureReq)
		if !ok {
			return ackResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return ackResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		ack, err := svc.ReportFailure(ctx, req.clientID, req.Round, req.Reason)
		if err != nil {
			return ackResponse{}, err
		}

		return ackResponse{
			Ack: ack,
		}, nil
	}
}

func listRoundsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return roundsPageResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return roundsPageResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListRounds(ctx, req.offset, req.limit)
		if err != nil {
			return roundsPageResponse{}, err
		}

		return roundsPageResponse{
			RoundPage: page,
		}, nil
	}
}

func getRoundEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return roundResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return roundResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		rec, err := svc.GetRound(ctx, req.id)
		if err != nil {
			return roundResponse{}, err
		}

		return roundResponse{
			RoundRecord: rec,
		}, nil
	}
}

func startTrainingEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		st, err := svc.StartTraining(ctx)
		if err != nil {
			return trainingResponse{}, err
		}

		return trainingResponse{
			TrainingStatus: st,
			started:        true,
		}, nil
	}
}

func stopTrainingEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		st, err := svc.StopTraining(ctx)
		if err != nil {
			return trainingResponse{}, err
		}

		return trainingResponse{
			TrainingStatus: st,
		}, nil
	}
}

func trainingStatusEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		st, err := svc.TrainingStatus(ctx)
		if err != nil {
			return trainingResponse{}, err
		}

		return trainingResponse{
			TrainingStatus: st,
		}, nil
	}
}
