package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
)

const (
	roundPrefix      = "round:"
	roundIndexPrefix = "roundid:"
)

type roundRepo struct {
	db *Database
}

func NewRoundRepository(db *Database) RoundRepository {
	return &roundRepo{db: db}
}

// roundKey zero-pads round and attempt so prefix iteration yields records
// in execution order.
func roundKey(rec fl.RoundRecord) []byte {
	return fmt.Appendf(nil, "%s%020d/%010d/%s", roundPrefix, rec.Round, rec.Attempt, rec.ID)
}

func (r *roundRepo) Create(ctx context.Context, rec fl.RoundRecord) error {
	if rec.ID == "" {
		return pkgerrors.ErrEmptyKey
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	key := roundKey(rec)
	if err := r.db.create([]byte(roundIndexPrefix+rec.ID), key); err != nil {
		return err
	}

	return r.db.set(key, val)
}

func (r *roundRepo) Get(ctx context.Context, id string) (fl.RoundRecord, error) {
	key, err := r.db.get([]byte(roundIndexPrefix + id))
	switch {
	case errors.Is(err, errKeyNotFound):
		return fl.RoundRecord{}, ErrRoundNotFound
	case err != nil:
		return fl.RoundRecord{}, err
	}
	val, err := r.db.get(key)
	switch {
	case errors.Is(err, errKeyNotFound):
		return fl.RoundRecord{}, ErrRoundNotFound
	case err != nil:
		return fl.RoundRecord{}, err
	}
	var rec fl.RoundRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return fl.RoundRecord{}, fmt.Errorf("%w: %w", ErrMarshal, err)
	}

	return rec, nil
}

func (r *roundRepo) List(ctx context.Context, offset, limit uint64) ([]fl.RoundRecord, uint64, error) {
	prefix := []byte(roundPrefix)
	total, err := r.db.countWithPrefix(prefix)
	if err != nil {
		return nil, 0, err
	}
	values, err := r.db.listWithPrefix(prefix, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	records := make([]fl.RoundRecord, len(values))
	for i, val := range values {
		if err := json.Unmarshal(val, &records[i]); err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrMarshal, err)
		}
	}

	return records, total, nil
}
