package sdk

import (
	"net/http"

	"github.com/absmach/federate/client"
)

const clientsEndpoint = "/clients"

func (sdk *fedSDK) RegisterClient(d client.Descriptor) (client.Descriptor, error) {
	url := sdk.coordinatorURL + clientsEndpoint

	var c client.Descriptor
	if err := sdk.doJSON(http.MethodPost, url, d, &c, http.StatusCreated); err != nil {
		return client.Descriptor{}, err
	}

	return c, nil
}

func (sdk *fedSDK) GetClient(id string) (client.Descriptor, error) {
	url := sdk.coordinatorURL + clientsEndpoint + "/" + id

	var c client.Descriptor
	if err := sdk.doJSON(http.MethodGet, url, nil, &c, http.StatusOK); err != nil {
		return client.Descriptor{}, err
	}

	return c, nil
}

func (sdk *fedSDK) ListClients(offset, limit uint64) (client.Page, error) {
	url := sdk.coordinatorURL + clientsEndpoint + pageQuery(offset, limit)

	var page client.Page
	if err := sdk.doJSON(http.MethodGet, url, nil, &page, http.StatusOK); err != nil {
		return client.Page{}, err
	}

	return page, nil
}

func (sdk *fedSDK) DeregisterClient(id string) error {
	url := sdk.coordinatorURL + clientsEndpoint + "/" + id

	return sdk.doJSON(http.MethodDelete, url, nil, nil, http.StatusNoContent)
}

func (sdk *fedSDK) Heartbeat(id string) (client.Descriptor, error) {
	url := sdk.coordinatorURL + clientsEndpoint + "/" + id + "/heartbeat"

	var c client.Descriptor
	if err := sdk.doJSON(http.MethodPost, url, nil, &c, http.StatusOK); err != nil {
		return client.Descriptor{}, err
	}

	return c, nil
}

func (sdk *fedSDK) GetTask(id string) (client.TrainRequest, error) {
	url := sdk.coordinatorURL + clientsEndpoint + "/" + id + "/task"

	var req client.TrainRequest
	if err := sdk.doJSON(http.MethodGet, url, nil, &req, http.StatusOK); err != nil {
		return client.TrainRequest{}, err
	}

	return req, nil
}

func (sdk *fedSDK) ReportFailure(id string, round uint64, reason string) (Ack, error) {
	url := sdk.coordinatorURL + clientsEndpoint + "/" + id + "/failures"
	body := struct {
		Round  uint64 `json:"round"`
		Reason string `json:"reason"`
	}{Round: round, Reason: reason}

	var ack Ack
	if err := sdk.doJSON(http.MethodPost, url, body, &ack, http.StatusOK, http.StatusAccepted); err != nil {
		return Ack{}, err
	}

	return ack, nil
}
