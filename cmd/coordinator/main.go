package main

import (
	"context"
	"log"
	"os"

	"github.com/absmach/federate/federated"
	"github.com/joho/godotenv"
)

const pathEnv = ".env"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg, err := federated.LoadCoordinatorConfig()
	if err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if err := federated.StartCoordinator(ctx, cancel, cfg); err != nil {
		log.Fatalf("failed to start coordinator: %s", err.Error())
	}
}
