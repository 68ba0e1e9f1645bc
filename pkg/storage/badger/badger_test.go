package badger_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/federate/client"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/storage/badger"
	"github.com/absmach/federate/pkg/storage/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testDB    *badger.Database
	invalidID = "invalid-id-that-does-not-exist"
)

func TestMain(m *testing.M) {
	dbPath := filepath.Join(os.TempDir(), "badger_test_"+uuid.NewString())

	var err error
	testDB, err = badger.NewDatabase(dbPath)
	if err != nil {
		panic(err)
	}

	code := m.Run()

	testDB.Close()
	os.RemoveAll(dbPath)

	os.Exit(code)
}

func TestClientRepository_Create(t *testing.T) {
	repo := badger.NewClientRepository(testDB)
	ctx := context.Background()

	existing := testutil.TestClient(uuid.NewString())
	require.Nil(t, repo.Create(ctx, existing))
	defer repo.Delete(ctx, existing.ID)

	cases := []struct {
		desc   string
		client client.Descriptor
		err    error
	}{
		{
			desc:   "create new client successfully",
			client: testutil.TestClient(uuid.NewString()),
			err:    nil,
		},
		{
			desc: "create client with nil metadata",
			client: func() client.Descriptor {
				d := testutil.TestClient(uuid.NewString())
				d.Metadata = nil
				return d
			}(),
			err: nil,
		},
		{
			desc:   "create duplicate client",
			client: existing,
			err:    pkgerrors.ErrEntityExists,
		},
		{
			desc:   "create client with empty ID",
			client: client.Descriptor{},
			err:    pkgerrors.ErrEmptyKey,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := repo.Create(ctx, tc.client)
			assert.Equal(t, tc.err, err, fmt.Sprintf("%s: expected error %v, got %v", tc.desc, tc.err, err))
			if err == nil {
				got, err := repo.Get(ctx, tc.client.ID)
				require.Nil(t, err)
				assert.Equal(t, tc.client.Name, got.Name)
				assert.Equal(t, tc.client.Status, got.Status)
				assert.Equal(t, tc.client.Metadata, got.Metadata)

				repo.Delete(ctx, tc.client.ID)
			}
		})
	}
}

func TestClientRepository_Get(t *testing.T) {
	repo := badger.NewClientRepository(testDB)
	ctx := context.Background()

	d := testutil.TestClient(uuid.NewString())
	require.Nil(t, repo.Create(ctx, d))
	defer repo.Delete(ctx, d.ID)

	cases := []struct {
		desc string
		id   string
		err  error
	}{
		{
			desc: "get existing client",
			id:   d.ID,
			err:  nil,
		},
		{
			desc: "get non-existing client",
			id:   invalidID,
			err:  badger.ErrClientNotFound,
		},
		{
			desc: "get with empty ID",
			id:   "",
			err:  badger.ErrClientNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := repo.Get(ctx, tc.id)
			assert.Equal(t, tc.err, err, fmt.Sprintf("%s: expected error %v, got %v", tc.desc, tc.err, err))
			if err == nil {
				assert.Equal(t, d.ID, got.ID)
				assert.Equal(t, d.DatasetSize, got.DatasetSize)
			}
		})
	}
}

func TestClientRepository_Update(t *testing.T) {
	repo := badger.NewClientRepository(testDB)
	ctx := context.Background()

	d := testutil.TestClient(uuid.NewString())
	require.Nil(t, repo.Create(ctx, d))
	defer repo.Delete(ctx, d.ID)

	cases := []struct {
		desc   string
		client client.Descriptor
		err    error
	}{
		{
			desc: "mark client selected",
			client: func() client.Descriptor {
				c := d
				c.Status = client.Selected
				return c
			}(),
			err: nil,
		},
		{
			desc: "mark client timed out",
			client: func() client.Descriptor {
				c := d
				c.Status = client.TimedOut
				return c
			}(),
			err: nil,
		},
		{
			desc:   "update non-existing client",
			client: testutil.TestClient(invalidID),
			err:    badger.ErrClientNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := repo.Update(ctx, tc.client)
			assert.Equal(t, tc.err, err, fmt.Sprintf("%s: expected error %v, got %v", tc.desc, tc.err, err))
			if err == nil {
				got, err := repo.Get(ctx, tc.client.ID)
				require.Nil(t, err)
				assert.Equal(t, tc.client.Status, got.Status)
			}
		})
	}
}

func TestClientRepository_ListAndDelete(t *testing.T) {
	repo := badger.NewClientRepository(testDB)
	ctx := context.Background()

	_, before, err := repo.List(ctx, 0, 1)
	require.Nil(t, err)

	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, id := range ids {
		require.Nil(t, repo.Create(ctx, testutil.TestClient(id)))
	}

	clients, total, err := repo.List(ctx, 0, 100)
	require.Nil(t, err)
	assert.Equal(t, before+3, total)
	assert.Len(t, clients, int(total))

	page, _, err := repo.List(ctx, 1, 1)
	require.Nil(t, err)
	assert.Len(t, page, 1)

	for _, id := range ids {
		assert.Nil(t, repo.Delete(ctx, id))
	}
	err = repo.Delete(ctx, ids[0])
	assert.Equal(t, badger.ErrClientNotFound, err)

	_, total, err = repo.List(ctx, 0, 100)
	require.Nil(t, err)
	assert.Equal(t, before, total)
}

func TestRoundRepository(t *testing.T) {
	repo := badger.NewRoundRepository(testDB)
	ctx := context.Background()

	records := []struct {
		round, attempt uint64
	}{
		{round: 2, attempt: 0},
		{round: 1, attempt: 1},
		{round: 1, attempt: 0},
		{round: 10, attempt: 0},
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = uuid.NewString()
		require.Nil(t, repo.Create(ctx, testutil.TestRound(ids[i], r.round, r.attempt)))
	}

	err := repo.Create(ctx, testutil.TestRound(ids[0], 5, 0))
	assert.Equal(t, pkgerrors.ErrEntityExists, err)

	cases := []struct {
		desc string
		id   string
		err  error
	}{
		{
			desc: "get existing round",
			id:   ids[1],
			err:  nil,
		},
		{
			desc: "get non-existing round",
			id:   invalidID,
			err:  badger.ErrRoundNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			rec, err := repo.Get(ctx, tc.id)
			assert.Equal(t, tc.err, err, fmt.Sprintf("%s: expected error %v, got %v", tc.desc, tc.err, err))
			if err == nil {
				assert.Equal(t, uint64(1), rec.Round)
				assert.Equal(t, uint64(1), rec.Attempt)
				assert.Equal(t, map[string]string{"c": "timed_out"}, rec.Excluded)
			}
		})
	}

	list, total, err := repo.List(ctx, 0, 10)
	require.Nil(t, err)
	assert.Equal(t, uint64(4), total)
	require.Len(t, list, 4)
	assert.Equal(t, []string{ids[2], ids[1], ids[0], ids[3]}, []string{list[0].ID, list[1].ID, list[2].ID, list[3].ID})
}

func TestModelRepository(t *testing.T) {
	repo := badger.NewModelRepository(testDB)
	ctx := context.Background()

	_, err := repo.Latest(ctx)
	assert.Equal(t, badger.ErrModelNotFound, err)

	for _, v := range []uint64{0, 2, 1, 11} {
		require.Nil(t, repo.Save(ctx, testutil.TestModel(v)))
	}
	err = repo.Save(ctx, testutil.TestModel(2))
	assert.Equal(t, pkgerrors.ErrEntityExists, err)

	latest, err := repo.Latest(ctx)
	require.Nil(t, err)
	assert.Equal(t, uint64(11), latest.Version)

	got, err := repo.Get(ctx, 2)
	require.Nil(t, err)
	assert.Equal(t, testutil.TestModel(2), got)

	_, err = repo.Get(ctx, 42)
	assert.Equal(t, badger.ErrModelNotFound, err)

	versions, err := repo.Versions(ctx)
	require.Nil(t, err)
	assert.Equal(t, []uint64{0, 1, 2, 11}, versions)
}
