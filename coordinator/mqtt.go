package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/pkg/mqtt"
)

var errEmptyClientID = errors.New("client id is empty")

// Subscribe listens on the inbound federation topics. It is a no-op without
// an MQTT connection.
func (svc *service) Subscribe(ctx context.Context) error {
	if svc.pubsub == nil {
		return nil
	}

	handlers := map[string]mqtt.Handler{
		fmt.Sprintf(client.RegisterTopicTemplate, svc.domainID, svc.channelID): svc.handleRegister(ctx),
		fmt.Sprintf(client.AliveTopicTemplate, svc.domainID, svc.channelID):    svc.handleAlive(ctx),
		fmt.Sprintf(client.UpdateTopicTemplate, svc.domainID, svc.channelID):   svc.handleUpdate(ctx),
		fmt.Sprintf(client.FailureTopicTemplate, svc.domainID, svc.channelID):  svc.handleFailure(ctx),
	}
	for topic, h := range handlers {
		if err := svc.pubsub.Subscribe(ctx, topic, h); err != nil {
			return err
		}
		svc.mu.Lock()
		svc.topics = append(svc.topics, topic)
		svc.mu.Unlock()
	}

	return nil
}

func (svc *service) handleRegister(ctx context.Context) mqtt.Handler {
	return func(_ string, msg map[string]any) error {
		var m client.RegisterMessage
		if err := mqtt.Decode(msg, &m); err != nil {
			return err
		}
		if m.ClientID == "" {
			return errEmptyClientID
		}
		d, err := svc.registry.Register(ctx, client.Descriptor{
			ID:          m.ClientID,
			Name:        m.Name,
			DatasetSize: m.DatasetSize,
			Transport:   "mqtt",
			Metadata:    m.Metadata,
		})
		if err != nil {
			return err
		}
		svc.logger.InfoContext(ctx, "client registered over mqtt", slog.String("client_id", d.ID), slog.String("name", d.Name))

		return nil
	}
}

func (svc *service) handleAlive(ctx context.Context) mqtt.Handler {
	return func(_ string, msg map[string]any) error {
		var m client.AliveMessage
		if err := mqtt.Decode(msg, &m); err != nil {
			return err
		}
		if m.ClientID == "" {
			return errEmptyClientID
		}
		_, err := svc.registry.Touch(ctx, m.ClientID)

		return err
	}
}

func (svc *service) handleUpdate(ctx context.Context) mqtt.Handler {
	return func(_ string, msg map[string]any) error {
		var u fl.Update
		if err := mqtt.Decode(msg, &u); err != nil {
			return err
		}
		ack, err := svc.SubmitUpdate(ctx, u)
		if err != nil {
			return err
		}
		if !ack.Accepted {
			svc.logger.DebugContext(ctx, "update discarded",
				slog.String("client_id", u.ClientID),
				slog.Uint64("round", u.Round),
				slog.String("reason", ack.Reason),
			)
		}

		return nil
	}
}

func (svc *service) handleFailure(ctx context.Context) mqtt.Handler {
	return func(_ string, msg map[string]any) error {
		var m client.FailureMessage
		if err := mqtt.Decode(msg, &m); err != nil {
			return err
		}
		_, err := svc.ReportFailure(ctx, m.ClientID, m.Round, m.Reason)

		return err
	}
}
