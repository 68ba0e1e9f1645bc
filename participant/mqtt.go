package participant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/pkg/mqtt"
)

func (s *Service) topic(template string) string {
	return fmt.Sprintf(template, s.cfg.DomainID, s.cfg.ChannelID)
}

func (s *Service) runMQTT(ctx context.Context) error {
	reg := client.RegisterMessage{
		ClientID:    s.cfg.ClientID,
		Name:        s.cfg.Name,
		DatasetSize: s.trainer.DatasetSize(),
		Metadata:    hostMetadata(ctx, s.cfg.Metadata),
	}
	if err := s.pubsub.Publish(ctx, s.topic(client.RegisterTopicTemplate), reg); err != nil {
		return fmt.Errorf("failed to publish registration: %w", err)
	}

	trainTopic := fmt.Sprintf(client.TrainTopicTemplate, s.cfg.DomainID, s.cfg.ChannelID, s.cfg.ClientID)
	if err := s.pubsub.Subscribe(ctx, trainTopic, s.handleTrain(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to train topic: %w", err)
	}
	s.logger.Info("participant listening for training requests", slog.String("client_id", s.cfg.ClientID), slog.String("topic", trainTopic))

	s.startLivelinessUpdates(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()

	return s.pubsub.Unsubscribe(context.WithoutCancel(ctx), trainTopic)
}

func (s *Service) startLivelinessUpdates(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping liveliness updates")

			return
		case <-ticker.C:
			topic := s.topic(client.AliveTopicTemplate)
			if err := s.pubsub.Publish(ctx, topic, client.AliveMessage{ClientID: s.cfg.ClientID}); err != nil {
				s.logger.Error("failed to publish liveliness message", slog.Any("error", err))

				continue
			}
			s.logger.Debug("published liveliness message", slog.String("topic", topic))
		}
	}
}

// handleTrain starts training in the background. A newer request cancels the
// one still running.
func (s *Service) handleTrain(ctx context.Context) mqtt.Handler {
	return func(_ string, msg map[string]any) error {
		var req client.TrainRequest
		if err := mqtt.Decode(msg, &req); err != nil {
			return err
		}
		if !s.claim(req) {
			return nil
		}

		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		taskCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer cancel()
			s.trainAndPublish(taskCtx, req)
		}()

		return nil
	}
}

func (s *Service) trainAndPublish(ctx context.Context, req client.TrainRequest) {
	u, err := s.train(ctx, s.cfg.ClientID, req)
	if err != nil {
		failure := client.FailureMessage{
			ClientID: s.cfg.ClientID,
			Round:    req.Round,
			Reason:   err.Error(),
		}
		if perr := s.pubsub.Publish(context.WithoutCancel(ctx), s.topic(client.FailureTopicTemplate), failure); perr != nil {
			s.logger.Error("failed to publish training failure", slog.Any("error", perr))
		}

		return
	}

	if err := s.pubsub.Publish(ctx, s.topic(client.UpdateTopicTemplate), u); err != nil {
		s.logger.Error("failed to publish update", slog.Uint64("round", req.Round), slog.Any("error", err))
	}
}
