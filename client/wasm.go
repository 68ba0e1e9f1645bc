package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/absmach/federate/pkg/fl"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const (
	wasmModeTrain    = "train"
	wasmModeEvaluate = "evaluate"
	wasmDataMount    = "/data"
)

var errWasmNoOutput = errors.New("trainer module produced no output")

type wasmInput struct {
	Mode   string          `json:"mode"`
	Params fl.ParameterSet `json:"params"`
	Epochs uint64          `json:"epochs,omitempty"`
}

type wasmOutput struct {
	Params      fl.ParameterSet    `json:"params"`
	Loss        float64            `json:"loss"`
	DatasetSize uint64             `json:"dataset_size"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Error       string             `json:"error,omitempty"`
}

var _ Trainer = (*WasmTrainer)(nil)

// WasmTrainer runs a WASI command module that reads a JSON request from stdin
// and writes its result to stdout. The client's data directory is mounted
// read-only at /data.
type WasmTrainer struct {
	runtime     wazero.Runtime
	compiled    wazero.CompiledModule
	dataDir     string
	env         map[string]string
	datasetSize atomic.Uint64
	logger      *slog.Logger
}

func NewWasmTrainer(ctx context.Context, wasm []byte, dataDir string, datasetSize uint64, env map[string]string, logger *slog.Logger) (*WasmTrainer, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		_ = r.Close(ctx)

		return nil, errors.Join(errors.New("failed to compile trainer module"), err)
	}

	t := &WasmTrainer{
		runtime:  r,
		compiled: compiled,
		dataDir:  dataDir,
		env:      env,
		logger:   logger,
	}
	t.datasetSize.Store(datasetSize)

	return t, nil
}

func (t *WasmTrainer) DatasetSize() uint64 {
	return t.datasetSize.Load()
}

func (t *WasmTrainer) Train(ctx context.Context, params fl.ParameterSet, epochs uint64) (TrainResult, error) {
	out, err := t.run(ctx, wasmInput{Mode: wasmModeTrain, Params: params, Epochs: epochs})
	if err != nil {
		return TrainResult{}, err
	}

	return TrainResult{
		Params:  out.Params,
		Loss:    out.Loss,
		Metrics: out.Metrics,
	}, nil
}

func (t *WasmTrainer) Evaluate(ctx context.Context, params fl.ParameterSet) (EvalResult, error) {
	out, err := t.run(ctx, wasmInput{Mode: wasmModeEvaluate, Params: params})
	if err != nil {
		return EvalResult{}, err
	}

	return EvalResult{
		Loss:        out.Loss,
		DatasetSize: out.DatasetSize,
		Metrics:     out.Metrics,
	}, nil
}

func (t *WasmTrainer) Close(ctx context.Context) error {
	return t.runtime.Close(ctx)
}

func (t *WasmTrainer) run(ctx context.Context, in wasmInput) (wasmOutput, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return wasmOutput{}, err
	}

	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs("trainer", in.Mode).
		WithStdin(bytes.NewReader(payload)).
		WithStdout(&stdout).
		WithStderr(&stderr)
	if t.dataDir != "" {
		cfg = cfg.WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(t.dataDir, wasmDataMount))
	}
	for k, v := range t.env {
		cfg = cfg.WithEnv(k, v)
	}

	mod, err := t.runtime.InstantiateModule(ctx, t.compiled, cfg)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			t.logger.Warn("trainer module failed", slog.String("mode", in.Mode), slog.String("stderr", stderr.String()))

			return wasmOutput{}, fmt.Errorf("trainer module failed: %w", err)
		}
	}

	if stdout.Len() == 0 {
		return wasmOutput{}, errWasmNoOutput
	}

	var out wasmOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return wasmOutput{}, fmt.Errorf("failed to decode trainer output: %w", err)
	}
	if out.Error != "" {
		return wasmOutput{}, errors.New(out.Error)
	}
	if in.Mode == wasmModeTrain {
		params, err := fl.NewParameterSet(in.Params.Version, out.Params.Tensors...)
		if err != nil {
			return wasmOutput{}, err
		}
		out.Params = params
		if out.DatasetSize > 0 {
			t.datasetSize.Store(out.DatasetSize)
		}
	}

	return out, nil
}
