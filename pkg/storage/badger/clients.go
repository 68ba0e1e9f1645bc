package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/absmach/federate/client"
	pkgerrors "github.com/absmach/federate/pkg/errors"
)

const clientPrefix = "client:"

type clientRepo struct {
	db *Database
}

func NewClientRepository(db *Database) ClientRepository {
	return &clientRepo{db: db}
}

func (r *clientRepo) Create(ctx context.Context, d client.Descriptor) error {
	if d.ID == "" {
		return pkgerrors.ErrEmptyKey
	}
	val, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMarshal, err)
	}

	return r.db.create([]byte(clientPrefix+d.ID), val)
}

func (r *clientRepo) Get(ctx context.Context, id string) (client.Descriptor, error) {
	val, err := r.db.get([]byte(clientPrefix + id))
	switch {
	case errors.Is(err, errKeyNotFound):
		return client.Descriptor{}, ErrClientNotFound
	case err != nil:
		return client.Descriptor{}, err
	}
	var d client.Descriptor
	if err := json.Unmarshal(val, &d); err != nil {
		return client.Descriptor{}, fmt.Errorf("%w: %w", ErrMarshal, err)
	}

	return d, nil
}

func (r *clientRepo) Update(ctx context.Context, d client.Descriptor) error {
	if _, err := r.Get(ctx, d.ID); err != nil {
		return err
	}
	val, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMarshal, err)
	}

	return r.db.set([]byte(clientPrefix+d.ID), val)
}

func (r *clientRepo) List(ctx context.Context, offset, limit uint64) ([]client.Descriptor, uint64, error) {
	prefix := []byte(clientPrefix)
	total, err := r.db.countWithPrefix(prefix)
	if err != nil {
		return nil, 0, err
	}
	values, err := r.db.listWithPrefix(prefix, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	clients := make([]client.Descriptor, len(values))
	for i, val := range values {
		if err := json.Unmarshal(val, &clients[i]); err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrMarshal, err)
		}
	}

	return clients, total, nil
}

func (r *clientRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}

	return r.db.delete([]byte(clientPrefix + id))
}
