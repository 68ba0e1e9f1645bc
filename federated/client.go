package federated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/participant"
	"github.com/absmach/federate/pkg/mqtt"
	"github.com/absmach/federate/pkg/oci"
	"github.com/absmach/federate/pkg/sdk"
)

type ClientConfig struct {
	LogLevel    string             `env:"FL_CLIENT_LOG_LEVEL" envDefault:"info"`
	Participant participant.Config
	MQTT        mqtt.Config `envPrefix:"FL_CLIENT_MQTT_"`
	Timeout     time.Duration `env:"FL_CLIENT_HTTP_TIMEOUT"     envDefault:"30s"`
	TLSVerify   bool          `env:"FL_CLIENT_TLS_VERIFICATION" envDefault:"false"`

	// WasmFile or WasmImage select a wasm training module; without either
	// the client trains a linear model on synthetic data.
	WasmFile    string     `env:"FL_CLIENT_WASM_FILE"`
	WasmImage   string     `env:"FL_CLIENT_WASM_IMAGE"`
	Registry    oci.Config `envPrefix:"FL_CLIENT_"`
	DataDir     string     `env:"FL_CLIENT_DATA_DIR"     envDefault:"./data"`
	DatasetSize uint64     `env:"FL_CLIENT_DATASET_SIZE" envDefault:"0"`

	Synthetic SyntheticConfig
}

// SyntheticConfig describes the linear relation a synthetic client samples.
// Clients sharing TruthSeed learn the same relation from different data.
type SyntheticConfig struct {
	Samples      int     `env:"FL_CLIENT_SAMPLES"       envDefault:"200"`
	Features     int     `env:"FL_CLIENT_FEATURES"      envDefault:"3"`
	Seed         uint64  `env:"FL_CLIENT_SEED"          envDefault:"1"`
	TruthSeed    uint64  `env:"FL_CLIENT_TRUTH_SEED"    envDefault:"42"`
	Noise        float64 `env:"FL_CLIENT_NOISE"         envDefault:"0.1"`
	LearningRate float64 `env:"FL_CLIENT_LEARNING_RATE" envDefault:"0.05"`
}

func (s SyntheticConfig) trainer() (*client.LinearTrainer, error) {
	if s.Features <= 0 {
		return nil, errors.New("synthetic client needs a positive number of features")
	}
	r := rand.New(rand.NewPCG(s.TruthSeed, s.TruthSeed+1))
	weights := make([]float64, s.Features)
	for i := range weights {
		weights[i] = r.Float64()*4 - 2
	}
	bias := r.Float64()*2 - 1

	return client.NewSyntheticLinearTrainer(s.Seed, s.Samples, weights, bias, s.Noise, s.LearningRate)
}

type closer interface {
	Close(ctx context.Context) error
}

func newTrainer(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (client.Trainer, error) {
	var (
		wasm []byte
		err  error
	)
	switch {
	case cfg.WasmFile != "":
		logger.Info("loading wasm file", slog.String("path", cfg.WasmFile))
		wasm, err = os.ReadFile(cfg.WasmFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read wasm file: %w", err)
		}
	case cfg.WasmImage != "":
		if err := cfg.Registry.Validate(); err != nil {
			return nil, err
		}
		logger.Info("fetching wasm image", slog.String("registry", cfg.Registry.RegistryURL), slog.String("image", cfg.WasmImage))
		wasm, err = oci.Fetch(ctx, cfg.Registry, cfg.WasmImage)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch wasm image: %w", err)
		}
	default:
		return cfg.Synthetic.trainer()
	}
	logger.Info("wasm module loaded", slog.Int("size_bytes", len(wasm)))

	return client.NewWasmTrainer(ctx, wasm, cfg.DataDir, cfg.DatasetSize, nil, logger)
}

func StartClient(ctx context.Context, cancel context.CancelFunc, cfg ClientConfig) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	trainer, err := newTrainer(ctx, cfg, logger)
	if err != nil {
		return errors.Join(errors.New("failed to initialize trainer"), err)
	}
	if c, ok := trainer.(closer); ok {
		defer c.Close(context.Background())
	}

	var (
		pubsub mqtt.PubSub
		fsdk   sdk.SDK
	)
	switch cfg.Participant.Transport {
	case participant.TransportMQTT:
		if cfg.MQTT.ID == "" {
			cfg.MQTT.ID = cfg.Participant.ClientID
		}
		pubsub, err = mqtt.NewPubSub(cfg.MQTT, logger)
		if err != nil {
			return errors.Join(errors.New("failed to initialize mqtt client"), err)
		}
		defer pubsub.Disconnect(context.Background())
	default:
		fsdk = sdk.NewSDK(sdk.Config{
			CoordinatorURL:  cfg.Participant.CoordinatorURL,
			TLSVerification: cfg.TLSVerify,
			Timeout:         cfg.Timeout,
		})
	}

	service, err := participant.NewService(cfg.Participant, trainer, fsdk, pubsub, logger)
	if err != nil {
		return errors.Join(errors.New("failed to initialize service"), err)
	}

	if err := service.Run(ctx); err != nil {
		return errors.Join(errors.New("failed to run service"), err)
	}

	return nil
}
