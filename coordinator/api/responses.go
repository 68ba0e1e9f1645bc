package api

import (
	"net/http"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/coordinator"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*clientResponse)(nil)
	_ supermq.Response = (*clientsPageResponse)(nil)
	_ supermq.Response = (*taskResponse)(nil)
	_ supermq.Response = (*modelResponse)(nil)
	_ supermq.Response = (*ackResponse)(nil)
	_ supermq.Response = (*roundsPageResponse)(nil)
	_ supermq.Response = (*roundResponse)(nil)
	_ supermq.Response = (*trainingResponse)(nil)
)

type clientResponse struct {
	client.Descriptor
	created bool
	deleted bool
}

func (c clientResponse) Code() int {
	if c.created {
		return http.StatusCreated
	}
	if c.deleted {
		return http.StatusNoContent
	}

	return http.StatusOK
}

func (c clientResponse) Headers() map[string]string {
	if c.created {
		return map[string]string{
			"Location": "/clients/" + c.ID,
		}
	}

	return map[string]string{}
}

func (c clientResponse) Empty() bool {
	return c.deleted
}

type clientsPageResponse struct {
	client.Page
}

func (c clientsPageResponse) Code() int {
	return http.StatusOK
}

func (c clientsPageResponse) Headers() map[string]string {
	return map[string]string{}
}

func (c clientsPageResponse) Empty() bool {
	return false
}

type taskResponse struct {
	client.TrainRequest
}

func (t taskResponse) Code() int {
	return http.StatusOK
}

func (t taskResponse) Headers() map[string]string {
	return map[string]string{}
}

func (t taskResponse) Empty() bool {
	return false
}

type modelResponse struct {
	fl.ParameterSet
}

func (m modelResponse) Code() int {
	return http.StatusOK
}

func (m modelResponse) Headers() map[string]string {
	return map[string]string{}
}

func (m modelResponse) Empty() bool {
	return false
}

type ackResponse struct {
	coordinator.Ack
}

func (a ackResponse) Code() int {
	if a.Accepted {
		return http.StatusAccepted
	}

	return http.StatusOK
}

func (a ackResponse) Headers() map[string]string {
	return map[string]string{}
}

func (a ackResponse) Empty() bool {
	return false
}

type roundsPageResponse struct {
	fl.RoundPage
}

func (r roundsPageResponse) Code() int {
	return http.StatusOK
}

func (r roundsPageResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundsPageResponse) Empty() bool {
	return false
}

type roundResponse struct {
	fl.RoundRecord
}

func (r roundResponse) Code() int {
	return http.StatusOK
}

func (r roundResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundResponse) Empty() bool {
	return false
}

type trainingResponse struct {
	coordinator.TrainingStatus
	started bool
}

func (t trainingResponse) Code() int {
	if t.started {
		return http.StatusAccepted
	}

	return http.StatusOK
}

func (t trainingResponse) Headers() map[string]string {
	return map[string]string{}
}

func (t trainingResponse) Empty() bool {
	return false
}
