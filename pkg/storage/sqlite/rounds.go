package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
)

type roundRepo struct {
	db *Database
}

func NewRoundRepository(db *Database) RoundRepository {
	return &roundRepo{db: db}
}

func (r *roundRepo) Create(ctx context.Context, rec fl.RoundRecord) error {
	if rec.ID == "" {
		return pkgerrors.ErrEmptyKey
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	query := `INSERT INTO rounds (id, round, attempt, outcome, record, started_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query, rec.ID, rec.Round, rec.Attempt, uint8(rec.Outcome), string(doc), rec.StartedAt)
	switch {
	case isConstraintErr(err):
		return pkgerrors.ErrEntityExists
	case err != nil:
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *roundRepo) Get(ctx context.Context, id string) (fl.RoundRecord, error) {
	var doc string
	if err := r.db.GetContext(ctx, &doc, `SELECT record FROM rounds WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.RoundRecord{}, ErrRoundNotFound
		}

		return fl.RoundRecord{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	var rec fl.RoundRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return fl.RoundRecord{}, fmt.Errorf("%w: %w", ErrDBScan, err)
	}

	return rec, nil
}

func (r *roundRepo) List(ctx context.Context, offset, limit uint64) ([]fl.RoundRecord, uint64, error) {
	var total uint64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM rounds`); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	var docs []string
	query := `SELECT record FROM rounds ORDER BY round, attempt, id LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &docs, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	records := make([]fl.RoundRecord, len(docs))
	for i, doc := range docs {
		if err := json.Unmarshal([]byte(doc), &records[i]); err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrDBScan, err)
		}
	}

	return records, total, nil
}
