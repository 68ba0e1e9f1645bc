package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/federate/client"
	pkgerrors "github.com/absmach/federate/pkg/errors"
)

type clientRepo struct {
	db *Database
}

func NewClientRepository(db *Database) ClientRepository {
	return &clientRepo{db: db}
}

type dbClient struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	DatasetSize  uint64    `db:"dataset_size"`
	Status       uint8     `db:"status"`
	Transport    string    `db:"transport"`
	Metadata     []byte    `db:"metadata"`
	RegisteredAt time.Time `db:"registered_at"`
	LastSeen     time.Time `db:"last_seen"`
}

const clientColumns = `id, name, dataset_size, status, transport, metadata, registered_at, last_seen`

func (r *clientRepo) Create(ctx context.Context, d client.Descriptor) error {
	if d.ID == "" {
		return pkgerrors.ErrEmptyKey
	}
	metadata, err := jsonBytes(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	query := `INSERT INTO clients (` + clientColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query, d.ID, d.Name, d.DatasetSize, uint8(d.Status), d.Transport, metadata, d.RegisteredAt, d.LastSeen)
	switch {
	case isConstraintErr(err):
		return pkgerrors.ErrEntityExists
	case err != nil:
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *clientRepo) Get(ctx context.Context, id string) (client.Descriptor, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = ?`

	var dbc dbClient
	if err := r.db.GetContext(ctx, &dbc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return client.Descriptor{}, ErrClientNotFound
		}

		return client.Descriptor{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return toDescriptor(dbc)
}

func (r *clientRepo) Update(ctx context.Context, d client.Descriptor) error {
	metadata, err := jsonBytes(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	query := `UPDATE clients SET name = ?, dataset_size = ?, status = ?, transport = ?, metadata = ?, last_seen = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, d.Name, d.DatasetSize, uint8(d.Status), d.Transport, metadata, d.LastSeen, d.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdate, err)
	}

	return expectRow(res, ErrClientNotFound)
}

func (r *clientRepo) List(ctx context.Context, offset, limit uint64) ([]client.Descriptor, uint64, error) {
	var total uint64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM clients`); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	query := `SELECT ` + clientColumns + ` FROM clients ORDER BY id LIMIT ? OFFSET ?`
	var rows []dbClient
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	clients := make([]client.Descriptor, 0, len(rows))
	for _, dbc := range rows {
		d, err := toDescriptor(dbc)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrDBScan, err)
		}
		clients = append(clients, d)
	}

	return clients, total, nil
}

func (r *clientRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}

	return expectRow(res, ErrClientNotFound)
}

func toDescriptor(dbc dbClient) (client.Descriptor, error) {
	d := client.Descriptor{
		ID:           dbc.ID,
		Name:         dbc.Name,
		DatasetSize:  dbc.DatasetSize,
		Status:       client.Status(dbc.Status),
		Transport:    dbc.Transport,
		RegisteredAt: dbc.RegisteredAt,
		LastSeen:     dbc.LastSeen,
	}
	if err := jsonUnmarshal(dbc.Metadata, &d.Metadata); err != nil {
		return client.Descriptor{}, err
	}

	return d, nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	if n == 0 {
		return notFound
	}

	return nil
}
