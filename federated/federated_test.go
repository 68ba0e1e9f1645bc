package federated

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/participant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCoordinatorConfig(t *testing.T) {
	t.Setenv("FL_NUM_ROUNDS", "4")
	t.Setenv("FL_MQTT_ADDRESS", "tcp://broker:1883")
	t.Setenv("FL_HTTP_PORT", "9090")
	t.Setenv("FL_STORAGE_TYPE", "sqlite")

	cfg, err := LoadCoordinatorConfig()
	require.Nil(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, uint64(4), cfg.Training.NumRounds)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Address)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 3, cfg.ModelFeatures)
	assert.False(t, cfg.EnableMQTT)
}

func TestLoadClientConfig(t *testing.T) {
	t.Setenv("FL_CLIENT_ID", "edge-1")
	t.Setenv("FL_CLIENT_TRANSPORT", "mqtt")
	t.Setenv("FL_CLIENT_MQTT_ADDRESS", "tcp://broker:1883")
	t.Setenv("FL_CLIENT_REGISTRY_URL", "registry:5000")
	t.Setenv("FL_CLIENT_SAMPLES", "50")

	cfg, err := LoadClientConfig()
	require.Nil(t, err)
	assert.Equal(t, "edge-1", cfg.Participant.ClientID)
	assert.Equal(t, participant.TransportMQTT, cfg.Participant.Transport)
	assert.Equal(t, 2*time.Second, cfg.Participant.PollInterval)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Address)
	assert.Equal(t, "registry:5000", cfg.Registry.RegistryURL)
	assert.Equal(t, 50, cfg.Synthetic.Samples)
}

func TestInitialModel(t *testing.T) {
	exported, err := client.InitialLinearModel(5)
	require.Nil(t, err)
	exported.Version = 7
	blob, err := exported.Blob()
	require.Nil(t, err)
	path := filepath.Join(t.TempDir(), "model.cbor")
	require.Nil(t, os.WriteFile(path, blob, 0o600))

	cases := []struct {
		desc    string
		cfg     CoordinatorConfig
		version uint64
		dim     int
		err     bool
	}{
		{desc: "zero model", cfg: CoordinatorConfig{ModelFeatures: 2}, dim: 2},
		{desc: "exported model", cfg: CoordinatorConfig{ModelFeatures: 2, InitialModel: path}, version: 7, dim: 5},
		{desc: "missing file", cfg: CoordinatorConfig{InitialModel: filepath.Join(t.TempDir(), "none")}, err: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			ps, err := initialModel(tc.cfg)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tc.version, ps.Version)
			w, ok := ps.Tensor(client.LinearWeight)
			require.True(t, ok)
			assert.Equal(t, []int{tc.dim}, w.Shape)
		})
	}
}

func TestSyntheticTrainersShareTruth(t *testing.T) {
	cfg := SyntheticConfig{Samples: 100, Features: 2, TruthSeed: 9, Noise: 0, LearningRate: 0.1}
	a, b := cfg, cfg
	a.Seed, b.Seed = 1, 2

	ta, err := newTrainer(context.Background(), ClientConfig{Synthetic: a}, slog.New(slog.DiscardHandler))
	require.Nil(t, err)
	tb, err := newTrainer(context.Background(), ClientConfig{Synthetic: b}, slog.New(slog.DiscardHandler))
	require.Nil(t, err)
	assert.Less(t, ta.DatasetSize(), uint64(100))
	assert.Positive(t, ta.DatasetSize())

	params, err := client.InitialLinearModel(2)
	require.Nil(t, err)
	ra, err := ta.Train(context.Background(), params, 300)
	require.Nil(t, err)
	rb, err := tb.Train(context.Background(), params, 300)
	require.Nil(t, err)

	wa, _ := ra.Params.Tensor(client.LinearWeight)
	wb, _ := rb.Params.Tensor(client.LinearWeight)
	assert.InDeltaSlice(t, wa.Values, wb.Values, 0.05)

	_, err = SyntheticConfig{}.trainer()
	assert.Error(t, err)
}

func TestNewTrainerMissingWasm(t *testing.T) {
	_, err := newTrainer(context.Background(), ClientConfig{WasmFile: filepath.Join(t.TempDir(), "train.wasm")}, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
