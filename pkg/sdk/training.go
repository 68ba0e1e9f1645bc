package sdk

import (
	"encoding/json"
	"net/http"

	"github.com/absmach/federate/pkg/fl"
)

const (
	modelEndpoint    = "/model"
	updatesEndpoint  = "/updates"
	roundsEndpoint   = "/rounds"
	trainingEndpoint = "/training"
)

func (sdk *fedSDK) GlobalModel() (fl.ParameterSet, error) {
	url := sdk.coordinatorURL + modelEndpoint

	var ps fl.ParameterSet
	if err := sdk.doJSON(http.MethodGet, url, nil, &ps, http.StatusOK); err != nil {
		return fl.ParameterSet{}, err
	}

	return ps, nil
}

func (sdk *fedSDK) SubmitUpdate(u fl.Update) (Ack, error) {
	url := sdk.coordinatorURL + updatesEndpoint

	var ack Ack
	if err := sdk.doJSON(http.MethodPost, url, u, &ack, http.StatusOK, http.StatusAccepted); err != nil {
		return Ack{}, err
	}

	return ack, nil
}

func (sdk *fedSDK) SubmitUpdateCBOR(u fl.Update) (Ack, error) {
	data, err := fl.EncodeUpdate(CTCBOR, u)
	if err != nil {
		return Ack{}, err
	}
	url := sdk.coordinatorURL + updatesEndpoint + "/cbor"

	body, err := sdk.processRequest(http.MethodPost, url, CTCBOR, data, http.StatusOK, http.StatusAccepted)
	if err != nil {
		return Ack{}, err
	}

	var ack Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return Ack{}, err
	}

	return ack, nil
}

func (sdk *fedSDK) ListRounds(offset, limit uint64) (fl.RoundPage, error) {
	url := sdk.coordinatorURL + roundsEndpoint + pageQuery(offset, limit)

	var page fl.RoundPage
	if err := sdk.doJSON(http.MethodGet, url, nil, &page, http.StatusOK); err != nil {
		return fl.RoundPage{}, err
	}

	return page, nil
}

func (sdk *fedSDK) GetRound(id string) (fl.RoundRecord, error) {
	url := sdk.coordinatorURL + roundsEndpoint + "/" + id

	var rec fl.RoundRecord
	if err := sdk.doJSON(http.MethodGet, url, nil, &rec, http.StatusOK); err != nil {
		return fl.RoundRecord{}, err
	}

	return rec, nil
}

func (sdk *fedSDK) StartTraining() (TrainingStatus, error) {
	return sdk.training(http.MethodPost, http.StatusAccepted)
}

func (sdk *fedSDK) StopTraining() (TrainingStatus, error) {
	return sdk.training(http.MethodDelete, http.StatusOK)
}

func (sdk *fedSDK) TrainingStatus() (TrainingStatus, error) {
	return sdk.training(http.MethodGet, http.StatusOK)
}

func (sdk *fedSDK) training(method string, code int) (TrainingStatus, error) {
	url := sdk.coordinatorURL + trainingEndpoint

	var st TrainingStatus
	if err := sdk.doJSON(method, url, nil, &st, code); err != nil {
		return TrainingStatus{}, err
	}

	return st, nil
}
