package tracking

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/pkg/storage"
)

type fileRegistry struct {
	store *fl.FileStore
}

// NewFileRegistry writes the history as JSON records and the final model as a
// CBOR blob under the store's directories.
func NewFileRegistry(store *fl.FileStore) ModelRegistry {
	return &fileRegistry{store: store}
}

func (r *fileRegistry) Publish(_ context.Context, final fl.ParameterSet, history []fl.RoundRecord) error {
	for _, rec := range history {
		if err := r.store.SaveRound(rec); err != nil {
			return fmt.Errorf("failed to save round %d: %w", rec.Round, err)
		}
	}
	if err := r.store.SaveModel(final); err != nil {
		return fmt.Errorf("failed to save model v%d: %w", final.Version, err)
	}

	return nil
}

type storageRegistry struct {
	models storage.ModelRepository
	rounds storage.RoundRepository
}

// NewStorageRegistry keeps the final model and history in the coordinator's
// repositories. Records already present are left untouched.
func NewStorageRegistry(models storage.ModelRepository, rounds storage.RoundRepository) ModelRegistry {
	return &storageRegistry{models: models, rounds: rounds}
}

func (r *storageRegistry) Publish(ctx context.Context, final fl.ParameterSet, history []fl.RoundRecord) error {
	if r.rounds != nil {
		for _, rec := range history {
			if err := r.rounds.Create(ctx, rec); err != nil && !errors.Is(err, pkgerrors.ErrEntityExists) {
				return err
			}
		}
	}
	if err := r.models.Save(ctx, final); err != nil && !errors.Is(err, pkgerrors.ErrEntityExists) {
		return err
	}

	return nil
}

type multiRegistry []ModelRegistry

func MultiRegistry(registries ...ModelRegistry) ModelRegistry {
	return multiRegistry(registries)
}

func (m multiRegistry) Publish(ctx context.Context, final fl.ParameterSet, history []fl.RoundRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.Publish(ctx, final, history); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
