package storage

import (
	"fmt"
	"io"

	"github.com/absmach/federate/pkg/storage/badger"
	"github.com/absmach/federate/pkg/storage/postgres"
	"github.com/absmach/federate/pkg/storage/sqlite"
)

type Config struct {
	Type string `env:"FL_STORAGE_TYPE" envDefault:"memory" toml:"type"`

	PostgresHost    string `env:"FL_POSTGRES_HOST"    envDefault:"localhost" toml:"postgres_host"`
	PostgresPort    string `env:"FL_POSTGRES_PORT"    envDefault:"5432"      toml:"postgres_port"`
	PostgresUser    string `env:"FL_POSTGRES_USER"    envDefault:"federate"  toml:"postgres_user"`
	PostgresPass    string `env:"FL_POSTGRES_PASS"    envDefault:"federate"  toml:"postgres_pass"`
	PostgresDB      string `env:"FL_POSTGRES_DB"      envDefault:"federate"  toml:"postgres_db"`
	PostgresSSLMode string `env:"FL_POSTGRES_SSLMODE" envDefault:"disable"   toml:"postgres_sslmode"`

	SQLitePath string `env:"FL_SQLITE_PATH" envDefault:"./federate.db" toml:"sqlite_path"`

	BadgerPath string `env:"FL_BADGER_PATH" envDefault:"./data/badger" toml:"badger_path"`
}

type Repositories struct {
	Clients ClientRepository
	Rounds  RoundRepository
	Models  ModelRepository
	// Closer closes the underlying persistent storage connection.
	// It is nil for the in-memory backend.
	Closer io.Closer
}

func NewRepositories(cfg Config) (*Repositories, error) {
	switch cfg.Type {
	case "postgres":
		return newPostgresRepositories(cfg)
	case "sqlite":
		return newSQLiteRepositories(cfg)
	case "badger":
		return newBadgerRepositories(cfg)
	case "memory", "":
		return newMemoryRepositories(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
}

func newPostgresRepositories(cfg Config) (*Repositories, error) {
	db, err := postgres.NewDatabase(
		cfg.PostgresHost,
		cfg.PostgresPort,
		cfg.PostgresUser,
		cfg.PostgresPass,
		cfg.PostgresDB,
		cfg.PostgresSSLMode,
	)
	if err != nil {
		return nil, err
	}

	repos := postgres.NewRepositories(db)

	return &Repositories{
		Clients: repos.Clients,
		Rounds:  repos.Rounds,
		Models:  repos.Models,
		Closer:  db,
	}, nil
}

func newSQLiteRepositories(cfg Config) (*Repositories, error) {
	db, err := sqlite.NewDatabase(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	repos := sqlite.NewRepositories(db)

	return &Repositories{
		Clients: repos.Clients,
		Rounds:  repos.Rounds,
		Models:  repos.Models,
		Closer:  db,
	}, nil
}

func newBadgerRepositories(cfg Config) (*Repositories, error) {
	db, err := badger.NewDatabase(cfg.BadgerPath)
	if err != nil {
		return nil, err
	}

	repos := badger.NewRepositories(db)

	return &Repositories{
		Clients: repos.Clients,
		Rounds:  repos.Rounds,
		Models:  repos.Models,
		Closer:  db,
	}, nil
}

func newMemoryRepositories() *Repositories {
	return &Repositories{
		Clients: newMemoryClientRepository(NewInMemoryStorage()),
		Rounds:  newMemoryRoundRepository(NewInMemoryStorage(), NewInMemoryStorage()),
		Models:  newMemoryModelRepository(NewInMemoryStorage()),
	}
}
