package badger

import (
	"context"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/pkg/fl"
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
