package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/absmach/federate/federated"
	"github.com/joho/godotenv"
)

const pathEnv = ".env"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var wasmFilePath string
	flag.StringVar(&wasmFilePath, "file", "", "Path to the wasm training module")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg, err := federated.LoadClientConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if wasmFilePath != "" {
		cfg.WasmFile = wasmFilePath
	}

	return federated.StartClient(ctx, cancel, cfg)
}
