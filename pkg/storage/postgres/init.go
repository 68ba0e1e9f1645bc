package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/federate/client"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
)

const uniqueViolation = "23505"

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

func NewDatabase(host, port, user, pass, name, sslMode string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", host, port, user, pass, name, sslMode)
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
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
						id VARCHAR(64) PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						dataset_size BIGINT NOT NULL DEFAULT 0,
						status SMALLINT NOT NULL DEFAULT 0,
						transport VARCHAR(32),
						metadata JSONB,
						registered_at TIMESTAMPTZ NOT NULL,
						last_seen TIMESTAMPTZ NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_clients_status ON clients(status)`,
					`CREATE TABLE IF NOT EXISTS rounds (
						id VARCHAR(64) PRIMARY KEY,
						round BIGINT NOT NULL,
						attempt BIGINT NOT NULL,
						outcome SMALLINT NOT NULL,
						record JSONB NOT NULL,
						started_at TIMESTAMPTZ NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_rounds_round ON rounds(round, attempt)`,
					`CREATE TABLE IF NOT EXISTS models (
						version BIGINT PRIMARY KEY,
						blob BYTEA NOT NULL,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

	if _, err := migrate.Exec(db.DB.DB, "postgres", migrations, migrate.Up); err != nil {
		return fmt.Errorf("database migration error: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}

	return false
}
