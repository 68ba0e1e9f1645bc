package participant

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

type Config struct {
	ClientID          string            `env:"FL_CLIENT_ID"`
	Name              string            `env:"FL_CLIENT_NAME"`
	Transport         string            `env:"FL_CLIENT_TRANSPORT"          envDefault:"http"`
	CoordinatorURL    string            `env:"FL_CLIENT_COORDINATOR_URL"    envDefault:"http://localhost:7070"`
	PollInterval      time.Duration     `env:"FL_CLIENT_POLL_INTERVAL"      envDefault:"2s"`
	HeartbeatInterval time.Duration     `env:"FL_CLIENT_HEARTBEAT_INTERVAL" envDefault:"10s"`
	UseCBOR           bool              `env:"FL_CLIENT_USE_CBOR"           envDefault:"false"`
	DomainID          string            `env:"FL_CLIENT_DOMAIN_ID"`
	ChannelID         string            `env:"FL_CLIENT_CHANNEL_ID"`
	Metadata          map[string]string `env:"FL_CLIENT_METADATA"`
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 || c.HeartbeatInterval <= 0 {
		return errors.New("poll and heartbeat intervals must be positive")
	}

	switch c.Transport {
	case TransportHTTP:
		if _, err := url.ParseRequestURI(c.CoordinatorURL); err != nil {
			return fmt.Errorf("coordinator url is not a valid URL: %w", err)
		}
	case TransportMQTT:
		if c.ClientID == "" {
			return errors.New("client id is required over mqtt")
		}
		if c.DomainID == "" || c.ChannelID == "" {
			return errors.New("domain and channel ids are required over mqtt")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}

	return nil
}
