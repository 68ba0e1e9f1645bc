package api

import (
	"errors"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/pkg/api"
	"github.com/absmach/federate/pkg/fl"
	apiutil "github.com/absmach/supermq/api/http/util"
)

var (
	errEmptyBody     = errors.New("request body is empty")
	errMissingReason = errors.New("missing failure reason")
)

type registerReq struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name,omitempty"`
	DatasetSize uint64            `json:"dataset_size"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (r *registerReq) validate() error {
	return nil
}

func (r registerReq) descriptor() client.Descriptor {
	return client.Descriptor{
		ID:          r.ID,
		Name:        r.Name,
		DatasetSize: r.DatasetSize,
		Transport:   "http",
		Metadata:    r.Metadata,
	}
}

type entityReq struct {
	id string
}

func (e *entityReq) validate() error {
	if e.id == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (e *listEntityReq) validate() error {
	if e.limit > api.MaxLimitSize {
		return apiutil.ErrLimitSize
	}

	return nil
}

type updateReq struct {
	fl.Update `json:",inline"`
}

func (u *updateReq) validate() error {
	if u.ClientID == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type cborUpdateReq struct {
	data []byte
}

func (c *cborUpdateReq) validate() error {
	if len(c.data) == 0 {
		return errEmptyBody
	}

	return nil
}

type failureReq struct {
	clientID string
	Round    uint64 `json:"round"`
	Reason   string `json:"reason"`
}

func (f *failureReq) validate() error {
	if f.clientID == "" {
		return apiutil.ErrMissingID
	}
	if f.Reason == "" {
		return errMissingReason
	}

	return nil
}

type emptyReq struct{}
