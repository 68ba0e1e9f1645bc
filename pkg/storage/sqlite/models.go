package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
)

type modelRepo struct {
	db *Database
}

func NewModelRepository(db *Database) ModelRepository {
	return &modelRepo{db: db}
}

func (r *modelRepo) Save(ctx context.Context, ps fl.ParameterSet) error {
	blob, err := ps.Blob()
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO models (version, blob) VALUES (?, ?)`, ps.Version, blob)
	switch {
	case isConstraintErr(err):
		return pkgerrors.ErrEntityExists
	case err != nil:
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *modelRepo) Get(ctx context.Context, version uint64) (fl.ParameterSet, error) {
	return r.one(ctx, `SELECT blob FROM models WHERE version = ?`, version)
}

func (r *modelRepo) Latest(ctx context.Context) (fl.ParameterSet, error) {
	return r.one(ctx, `SELECT blob FROM models ORDER BY version DESC LIMIT 1`)
}

func (r *modelRepo) Versions(ctx context.Context) ([]uint64, error) {
	var versions []uint64
	if err := r.db.SelectContext(ctx, &versions, `SELECT version FROM models ORDER BY version`); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return versions, nil
}

func (r *modelRepo) one(ctx context.Context, query string, args ...any) (fl.ParameterSet, error) {
	var blob []byte
	if err := r.db.GetContext(ctx, &blob, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.ParameterSet{}, ErrModelNotFound
		}

		return fl.ParameterSet{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return fl.ParseBlob(blob)
}
