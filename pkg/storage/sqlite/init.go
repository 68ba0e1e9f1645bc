package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/federate/client"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrDBScan       = errors.New("database scan error")
	ErrCreate       = errors.New("create error")
	ErrUpdate       = errors.New("update error")
	ErrDelete       = errors.New("delete error")

	ErrClientNotFound = fmt.Errorf("client %w", pkgerrors.ErrNotFound)
	ErrRoundNotFound  = fmt.Errorf("round %w", pkgerrors.ErrNotFound)
	ErrModelNotFound  = fmt.Errorf("model %w", pkgerrors.ErrNotFound)
)

type ClientRepository interface {
	Create(ctx context.Context, d client.Descriptor) error
	Get(ctx context.Context, id string) (client.Descriptor, error)
	Update(ctx context.Context, d client.Descriptor) error
	List(ctx context.Context, offset, limit uint64) ([]client.Descriptor, uint64, error)
	Delete(ctx context.Context, id string) error
}

type RoundRepository interface {
	Create(ctx context.Context, r fl.RoundRecord) error
	Get(ctx context.Context, id string) (fl.RoundRecord, error)
	List(ctx context.Context, offset, limit uint64) ([]fl.RoundRecord, uint64, error)
}

type ModelRepository interface {
	Save(ctx context.Context, ps fl.ParameterSet) error
	Get(ctx context.Context, version uint64) (fl.ParameterSet, error)
	Latest(ctx context.Context) (fl.ParameterSet, error)
	Versions(ctx context.Context) ([]uint64, error)
}

type Repositories struct {
	Clients ClientRepository
	Rounds  RoundRepository
	Models  ModelRepository
}

func NewRepositories(db *Database) *Repositories {
	return &Repositories{
		Clients: NewClientRepository(db),
		Rounds:  NewRoundRepository(db),
		Models:  NewModelRepository(db),
	}
}

type Database struct {
	*sqlx.DB
}

func NewDatabase(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	// sqlite serializes writers.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{DB: db}

	if err := database.Migrate(); err != nil {
		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_tables",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS clients (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL,
						dataset_size INTEGER NOT NULL DEFAULT 0,
						status INTEGER NOT NULL DEFAULT 0,
						transport TEXT,
						metadata TEXT,
						registered_at TIMESTAMP NOT NULL,
						last_seen TIMESTAMP NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_clients_status ON clients(status)`,
					`CREATE TABLE IF NOT EXISTS rounds (
						id TEXT PRIMARY KEY,
						round INTEGER NOT NULL,
						attempt INTEGER NOT NULL,
						outcome INTEGER NOT NULL,
						record TEXT NOT NULL,
						started_at TIMESTAMP NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_rounds_round ON rounds(round, attempt)`,
					`CREATE TABLE IF NOT EXISTS models (
						version INTEGER PRIMARY KEY,
						blob BLOB NOT NULL,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS models`,
					`DROP INDEX IF EXISTS idx_rounds_round`,
					`DROP TABLE IF EXISTS rounds`,
					`DROP INDEX IF EXISTS idx_clients_status`,
					`DROP TABLE IF EXISTS clients`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "sqlite3", migrations, migrate.Up); err != nil {
		return fmt.Errorf("database migration error: %w", err)
	}

	return nil
}

func isConstraintErr(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrConstraint
	}

	return false
}

func jsonBytes(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	return json.Marshal(v)
}

func jsonUnmarshal(data []byte, v any) error {
	if data == nil {
		return nil
	}

	return json.Unmarshal(data, v)
}
