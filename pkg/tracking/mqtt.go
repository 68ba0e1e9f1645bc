package tracking

import (
	"context"
	"fmt"

	"github.com/absmach/federate/client"
)

type mqttSink struct {
	pub   client.Publisher
	topic string
}

// NewMQTTSink publishes every report on the rounds/completed topic so that
// clients and dashboards can follow progress.
func NewMQTTSink(pub client.Publisher, domainID, channelID string) Sink {
	return &mqttSink{
		pub:   pub,
		topic: fmt.Sprintf(client.RoundsTopicTemplate, domainID, channelID),
	}
}

func (s *mqttSink) RecordRound(ctx context.Context, r RoundReport) error {
	return s.pub.Publish(ctx, s.topic, r)
}
