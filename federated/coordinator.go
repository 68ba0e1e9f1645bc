package federated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/absmach/federate"
	"github.com/absmach/federate/client"
	"github.com/absmach/federate/coordinator"
	"github.com/absmach/federate/coordinator/api"
	"github.com/absmach/federate/coordinator/middleware"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/pkg/mqtt"
	"github.com/absmach/federate/pkg/storage"
	"github.com/absmach/federate/pkg/tracking"
	"github.com/absmach/federate/registry"
	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	coordinatorSvcName = "coordinator"
	DefHTTPPort        = "7070"
)

type CoordinatorConfig struct {
	LogLevel   string `env:"FL_LOG_LEVEL"   envDefault:"info"`
	InstanceID string `env:"FL_INSTANCE_ID"`
	DomainID   string `env:"FL_DOMAIN_ID"`
	ChannelID  string `env:"FL_CHANNEL_ID"`

	// EnableMQTT connects to the broker so clients can register and submit
	// over MQTT besides HTTP.
	EnableMQTT bool        `env:"FL_MQTT_ENABLED" envDefault:"false"`
	MQTT       mqtt.Config `envPrefix:"FL_MQTT_"`

	// ExperimentFile, when set, replaces Training, Schedule and Storage with
	// the contents of a TOML experiment file.
	ExperimentFile string        `env:"FL_EXPERIMENT_FILE"`
	ModelFeatures  int           `env:"FL_MODEL_FEATURES"  envDefault:"3"`
	InitialModel   string        `env:"FL_INITIAL_MODEL"`
	OutputDir      string        `env:"FL_OUTPUT_DIR"`
	LivenessWindow time.Duration `env:"FL_LIVENESS_WINDOW" envDefault:"0s"`
	AutoStart      bool          `env:"FL_AUTO_START"      envDefault:"false"`

	Training coordinator.Config
	Schedule coordinator.ScheduleConfig
	Storage  storage.Config
	Server   server.Config `envPrefix:"FL_HTTP_"`

	OTELURL    url.URL `env:"FL_OTEL_URL"`
	TraceRatio float64 `env:"FL_TRACE_RATIO" envDefault:"0"`
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: l,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	return logger, nil
}

// initialModel reads an exported model blob, or starts from zero weights.
func initialModel(cfg CoordinatorConfig) (fl.ParameterSet, error) {
	if cfg.InitialModel == "" {
		return client.InitialLinearModel(cfg.ModelFeatures)
	}
	data, err := os.ReadFile(cfg.InitialModel)
	if err != nil {
		return fl.ParameterSet{}, fmt.Errorf("failed to read initial model: %w", err)
	}

	return fl.ParseBlob(data)
}

func StartCoordinator(ctx context.Context, cancel context.CancelFunc, cfg CoordinatorConfig) error {
	g, ctx := errgroup.WithContext(ctx)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	if cfg.ExperimentFile != "" {
		exp, err := federate.LoadConfig(cfg.ExperimentFile)
		if err != nil {
			return err
		}
		cfg.Training, cfg.Schedule, cfg.Storage = exp.Coordinator, exp.Schedule, exp.Storage
	}
	if err := cfg.Training.Validate(); err != nil {
		return err
	}

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, coordinatorSvcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			return fmt.Errorf("failed to initialize opentelemetry: %s", err.Error())
		}
		defer func() {
			if err := sdktp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(coordinatorSvcName)

	repos, err := storage.NewRepositories(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.Type, err)
	}
	if repos.Closer != nil {
		defer repos.Closer.Close()
	}

	var (
		pubsub mqtt.PubSub
		sinks  = []tracking.Sink{tracking.NewLogSink(logger), tracking.NewPrometheusSink(prom.DefaultRegisterer)}
	)
	if cfg.EnableMQTT {
		if cfg.MQTT.ID == "" {
			cfg.MQTT.ID = fmt.Sprintf("%s-%s", coordinatorSvcName, cfg.InstanceID)
		}
		pubsub, err = mqtt.NewPubSub(cfg.MQTT, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize mqtt pubsub: %s", err.Error())
		}
		defer func() {
			if err := pubsub.Disconnect(context.Background()); err != nil {
				logger.Error("failed to disconnect from mqtt broker", slog.Any("error", err))
			}
		}()
		sinks = append(sinks, tracking.NewMQTTSink(pubsub, cfg.DomainID, cfg.ChannelID))
	}

	registries := []tracking.ModelRegistry{tracking.NewStorageRegistry(repos.Models, repos.Rounds)}
	if cfg.OutputDir != "" {
		store, err := fl.NewFileStore(filepath.Join(cfg.OutputDir, "rounds"), filepath.Join(cfg.OutputDir, "models"))
		if err != nil {
			return err
		}
		registries = append(registries, tracking.NewFileRegistry(store))
	}

	initial, err := initialModel(cfg)
	if err != nil {
		return err
	}

	reg := registry.New(repos.Clients, registry.WithLivenessWindow(cfg.LivenessWindow))
	svc, err := coordinator.NewService(cfg.Training, initial, reg, repos.Rounds, repos.Models, pubsub, cfg.DomainID, cfg.ChannelID, logger,
		coordinator.WithSink(tracking.Multi(sinks...)),
		coordinator.WithModelRegistry(tracking.MultiRegistry(registries...)),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s service: %w", coordinatorSvcName, err)
	}
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(coordinatorSvcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	if err := svc.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to coordinator channel: %s", err.Error())
	}
	defer func() {
		if err := svc.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shut down coordinator", slog.Any("error", err))
		}
	}()

	if cfg.AutoStart {
		if _, err := svc.StartTraining(ctx); err != nil {
			return fmt.Errorf("failed to start training: %w", err)
		}
	}

	if cfg.Schedule.Expression != "" {
		ts, err := coordinator.NewTrainingScheduler(cfg.Schedule, svc, logger)
		if err != nil {
			return fmt.Errorf("failed to create training scheduler: %w", err)
		}
		g.Go(func() error {
			if err := ts.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		})
	}

	hs := httpserver.NewServer(ctx, cancel, coordinatorSvcName, cfg.Server, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, coordinatorSvcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", coordinatorSvcName, err))
	}

	return nil
}
