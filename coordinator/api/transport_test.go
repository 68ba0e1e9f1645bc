package api_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/absmach/federate/client"
	"github.com/absmach/federate/coordinator"
	"github.com/absmach/federate/coordinator/api"
	"github.com/absmach/federate/coordinator/mocks"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	jsonType = "application/json"
	clientID = "edge-1"
)

func newServer(t *testing.T) (*httptest.Server, *mocks.MockService) {
	t.Helper()

	svc := new(mocks.MockService)
	ts := httptest.NewServer(api.MakeHandler(svc, slog.New(slog.DiscardHandler), "test"))
	t.Cleanup(ts.Close)

	return ts, svc
}

func do(t *testing.T, method, url, contentType, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.Nil(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	t.Cleanup(func() { res.Body.Close() })

	return res
}

func TestRegister(t *testing.T) {
	ts, svc := newServer(t)

	cases := []struct {
		desc        string
		contentType string
		body        string
		svcRes      client.Descriptor
		svcErr      error
		status      int
		location    string
	}{
		{
			desc:        "register with id",
			contentType: jsonType,
			body:        `{"id":"edge-1","name":"porto","dataset_size":40}`,
			svcRes:      client.Descriptor{ID: clientID, Name: "porto", DatasetSize: 40},
			status:      http.StatusCreated,
			location:    "/clients/edge-1",
		},
		{
			desc:        "register duplicate",
			contentType: jsonType,
			body:        `{"id":"edge-1"}`,
			svcErr:      pkgerrors.ErrEntityExists,
			status:      http.StatusConflict,
		},
		{
			desc:        "register with wrong content type",
			contentType: "text/plain",
			body:        `{"id":"edge-1"}`,
			status:      http.StatusUnsupportedMediaType,
		},
		{
			desc:        "register with malformed body",
			contentType: jsonType,
			body:        `{"id":`,
			status:      http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On("Register", mock.Anything, mock.Anything).Return(tc.svcRes, tc.svcErr)
			res := do(t, http.MethodPost, ts.URL+"/clients", tc.contentType, tc.body)
			assert.Equal(t, tc.status, res.StatusCode)
			assert.Equal(t, tc.location, res.Header.Get("Location"))
			call.Unset()
		})
	}
}

func TestRegisterUsesHTTPTransport(t *testing.T) {
	ts, svc := newServer(t)

	svc.On("Register", mock.Anything, client.Descriptor{ID: clientID, DatasetSize: 5, Transport: "http"}).
		Return(client.Descriptor{ID: clientID}, nil)
	res := do(t, http.MethodPost, ts.URL+"/clients", jsonType, `{"id":"edge-1","dataset_size":5}`)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	svc.AssertExpectations(t)
}

func TestClientRoutes(t *testing.T) {
	ts, svc := newServer(t)

	cases := []struct {
		desc   string
		method string
		path   string
		svcFn  string
		svcRes any
		svcErr error
		status int
	}{
		{
			desc:   "get client",
			method: http.MethodGet,
			path:   "/clients/edge-1",
			svcFn:  "GetClient",
			svcRes: client.Descriptor{ID: clientID},
			status: http.StatusOK,
		},
		{
			desc:   "get unknown client",
			method: http.MethodGet,
			path:   "/clients/edge-1",
			svcFn:  "GetClient",
			svcRes: client.Descriptor{},
			svcErr: pkgerrors.ErrNotFound,
			status: http.StatusNotFound,
		},
		{
			desc:   "heartbeat",
			method: http.MethodPost,
			path:   "/clients/edge-1/heartbeat",
			svcFn:  "Heartbeat",
			svcRes: client.Descriptor{ID: clientID},
			status: http.StatusOK,
		},
		{
			desc:   "task for selected client",
			method: http.MethodGet,
			path:   "/clients/edge-1/task",
			svcFn:  "GetTask",
			svcRes: client.TrainRequest{Round: 2, LocalEpochs: 1},
			status: http.StatusOK,
		},
		{
			desc:   "no task outside a round",
			method: http.MethodGet,
			path:   "/clients/edge-1/task",
			svcFn:  "GetTask",
			svcRes: client.TrainRequest{},
			svcErr: pkgerrors.ErrNotFound,
			status: http.StatusNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On(tc.svcFn, mock.Anything, clientID).Return(tc.svcRes, tc.svcErr)
			res := do(t, tc.method, ts.URL+tc.path, "", "")
			assert.Equal(t, tc.status, res.StatusCode)
			call.Unset()
		})
	}
}

func TestDeregister(t *testing.T) {
	ts, svc := newServer(t)

	svc.On("Deregister", mock.Anything, clientID).Return(nil)
	res := do(t, http.MethodDelete, ts.URL+"/clients/edge-1", "", "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.Nil(t, err)
	assert.Empty(t, body)
}

func TestListClients(t *testing.T) {
	ts, svc := newServer(t)

	cases := []struct {
		desc   string
		query  string
		offset uint64
		limit  uint64
		status int
	}{
		{desc: "default paging", query: "", offset: 0, limit: 100, status: http.StatusOK},
		{desc: "explicit paging", query: "?offset=5&limit=10", offset: 5, limit: 10, status: http.StatusOK},
		{desc: "limit above maximum", query: "?limit=1000", status: http.StatusBadRequest},
		{desc: "non numeric offset", query: "?offset=abc", status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On("ListClients", mock.Anything, tc.offset, tc.limit).Return(client.Page{Offset: tc.offset, Limit: tc.limit}, nil)
			res := do(t, http.MethodGet, ts.URL+"/clients"+tc.query, "", "")
			assert.Equal(t, tc.status, res.StatusCode)
			call.Unset()
		})
	}
}

func TestSubmitUpdate(t *testing.T) {
	ts, svc := newServer(t)

	cases := []struct {
		desc        string
		path        string
		contentType string
		body        string
		svcFn       string
		ack         coordinator.Ack
		svcErr      error
		status      int
	}{
		{
			desc:        "accepted update",
			path:        "/updates",
			contentType: jsonType,
			body:        `{"client_id":"edge-1","round":1,"dataset_size":3}`,
			svcFn:       "SubmitUpdate",
			ack:         coordinator.Ack{Accepted: true, Round: 1},
			status:      http.StatusAccepted,
		},
		{
			desc:        "stale update",
			path:        "/updates",
			contentType: jsonType,
			body:        `{"client_id":"edge-1","round":1,"dataset_size":3}`,
			svcFn:       "SubmitUpdate",
			ack:         coordinator.Ack{Round: 1, Reason: coordinator.ReasonStaleRound},
			status:      http.StatusOK,
		},
		{
			desc:        "update without client id",
			path:        "/updates",
			contentType: jsonType,
			body:        `{"round":1}`,
			status:      http.StatusBadRequest,
		},
		{
			desc:        "update from unknown client",
			path:        "/updates",
			contentType: jsonType,
			body:        `{"client_id":"ghost","round":1}`,
			svcFn:       "SubmitUpdate",
			svcErr:      pkgerrors.ErrNotFound,
			status:      http.StatusNotFound,
		},
		{
			desc:        "cbor update",
			path:        "/updates/cbor",
			contentType: fl.ContentTypeCBOR,
			body:        "\xa1\x01\x66edge-1",
			svcFn:       "SubmitUpdateCBOR",
			ack:         coordinator.Ack{Accepted: true, Round: 1},
			status:      http.StatusAccepted,
		},
		{
			desc:        "malformed cbor update",
			path:        "/updates/cbor",
			contentType: fl.ContentTypeCBOR,
			body:        "\xff",
			svcFn:       "SubmitUpdateCBOR",
			svcErr:      pkgerrors.ErrInvalidData,
			status:      http.StatusBadRequest,
		},
		{
			desc:        "empty cbor body",
			path:        "/updates/cbor",
			contentType: fl.ContentTypeCBOR,
			status:      http.StatusBadRequest,
		},
		{
			desc:        "cbor route with json content",
			path:        "/updates/cbor",
			contentType: jsonType,
			body:        `{}`,
			status:      http.StatusUnsupportedMediaType,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			var call *mock.Call
			if tc.svcFn != "" {
				call = svc.On(tc.svcFn, mock.Anything, mock.Anything).Return(tc.ack, tc.svcErr)
			}
			res := do(t, http.MethodPost, ts.URL+tc.path, tc.contentType, tc.body)
			assert.Equal(t, tc.status, res.StatusCode)
			if tc.status < http.StatusBadRequest {
				var ack coordinator.Ack
				require.Nil(t, json.NewDecoder(res.Body).Decode(&ack))
				assert.Equal(t, tc.ack, ack)
			}
			if call != nil {
				call.Unset()
			}
		})
	}
}

func TestReportFailure(t *testing.T) {
	ts, svc := newServer(t)

	cases := []struct {
		desc   string
		body   string
		ack    coordinator.Ack
		status int
	}{
		{
			desc:   "failure during a round",
			body:   `{"round":3,"reason":"out of memory"}`,
			ack:    coordinator.Ack{Accepted: true, Round: 3},
			status: http.StatusAccepted,
		},
		{
			desc:   "failure without reason",
			body:   `{"round":3}`,
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On("ReportFailure", mock.Anything, clientID, uint64(3), "out of memory").Return(tc.ack, nil)
			res := do(t, http.MethodPost, ts.URL+"/clients/edge-1/failures", jsonType, tc.body)
			assert.Equal(t, tc.status, res.StatusCode)
			call.Unset()
		})
	}
}

func TestRoundRoutes(t *testing.T) {
	ts, svc := newServer(t)

	rec := fl.RoundRecord{ID: "r-1", Round: 1, Outcome: fl.Completed}
	svc.On("ListRounds", mock.Anything, uint64(0), uint64(100)).Return(fl.RoundPage{Limit: 100, Total: 1, Rounds: []fl.RoundRecord{rec}}, nil)
	svc.On("GetRound", mock.Anything, "r-1").Return(rec, nil)
	svc.On("GetRound", mock.Anything, "r-2").Return(fl.RoundRecord{}, pkgerrors.ErrNotFound)

	res := do(t, http.MethodGet, ts.URL+"/rounds", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var page fl.RoundPage
	require.Nil(t, json.NewDecoder(res.Body).Decode(&page))
	assert.Equal(t, uint64(1), page.Total)
	assert.Equal(t, "r-1", page.Rounds[0].ID)

	res = do(t, http.MethodGet, ts.URL+"/rounds/r-1", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = do(t, http.MethodGet, ts.URL+"/rounds/r-2", "", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestTrainingRoutes(t *testing.T) {
	ts, svc := newServer(t)

	cases := []struct {
		desc   string
		method string
		svcFn  string
		svcRes coordinator.TrainingStatus
		svcErr error
		status int
	}{
		{
			desc:   "start training",
			method: http.MethodPost,
			svcFn:  "StartTraining",
			svcRes: coordinator.TrainingStatus{ID: "run-1", Running: true},
			status: http.StatusAccepted,
		},
		{
			desc:   "start while running",
			method: http.MethodPost,
			svcFn:  "StartTraining",
			svcErr: coordinator.ErrTrainingInProgress,
			status: http.StatusConflict,
		},
		{
			desc:   "training status",
			method: http.MethodGet,
			svcFn:  "TrainingStatus",
			svcRes: coordinator.TrainingStatus{ID: "run-1", Running: true},
			status: http.StatusOK,
		},
		{
			desc:   "stop training",
			method: http.MethodDelete,
			svcFn:  "StopTraining",
			svcRes: coordinator.TrainingStatus{ID: "run-1", StopReason: fl.StopCancelled},
			status: http.StatusOK,
		},
		{
			desc:   "stop without a run",
			method: http.MethodDelete,
			svcFn:  "StopTraining",
			svcErr: coordinator.ErrNoTrainingRun,
			status: http.StatusConflict,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			call := svc.On(tc.svcFn, mock.Anything).Return(tc.svcRes, tc.svcErr)
			res := do(t, tc.method, ts.URL+"/training", "", "")
			assert.Equal(t, tc.status, res.StatusCode)
			call.Unset()
		})
	}
}

func TestGetModel(t *testing.T) {
	ts, svc := newServer(t)

	ps, err := fl.NewParameterSet(4, fl.Tensor{Name: "w", Shape: []int{2}, Values: []float64{1, 2}})
	require.Nil(t, err)
	svc.On("GetGlobalModel", mock.Anything).Return(ps, nil)

	res := do(t, http.MethodGet, ts.URL+"/model", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got fl.ParameterSet
	require.Nil(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, ps, got)
}

func TestHealth(t *testing.T) {
	ts, _ := newServer(t)

	res := do(t, http.MethodGet, ts.URL+"/health", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
