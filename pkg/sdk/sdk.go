package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/absmach/federate/client"
	pkgerrors "github.com/absmach/federate/pkg/errors"
	"github.com/absmach/federate/pkg/fl"
)

const (
	CTJSON string = "application/json"
	CTCBOR string = fl.ContentTypeCBOR

	defTimeout = 30 * time.Second
)

var ErrUnexpectedResponse = errors.New("unexpected response code")

type PageMetadata struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

// Ack is the coordinator's answer to a submitted update or failure report.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Round    uint64 `json:"round"`
	Reason   string `json:"reason,omitempty"`
}

type RoundSnapshot struct {
	Phase       string    `json:"phase"`
	Round       uint64    `json:"round"`
	Attempt     uint64    `json:"attempt"`
	BaseVersion uint64    `json:"base_version"`
	Selected    []string  `json:"selected,omitempty"`
	Submitted   []string  `json:"submitted,omitempty"`
	Deadline    time.Time `json:"deadline,omitzero"`
}

type TrainingStatus struct {
	ID         string        `json:"id,omitempty"`
	Running    bool          `json:"running"`
	Round      RoundSnapshot `json:"round"`
	Version    uint64        `json:"version"`
	StopReason fl.StopReason `json:"stop_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
}

type SDK interface {
	// RegisterClient registers a participant. An empty ID lets the
	// coordinator generate one.
	//
	// example:
	//  c, _ := sdk.RegisterClient(client.Descriptor{Name: "porto", DatasetSize: 1200})
	//  fmt.Println(c.ID)
	RegisterClient(d client.Descriptor) (client.Descriptor, error)

	// GetClient gets a participant by id.
	//
	// example:
	//  c, _ := sdk.GetClient("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	//  fmt.Println(c)
	GetClient(id string) (client.Descriptor, error)

	// ListClients lists registered participants.
	//
	// example:
	//  page, _ := sdk.ListClients(0, 10)
	//  fmt.Println(page)
	ListClients(offset, limit uint64) (client.Page, error)

	// DeregisterClient removes a participant.
	//
	// example:
	//  _ := sdk.DeregisterClient("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	DeregisterClient(id string) error

	// Heartbeat marks a participant as live.
	Heartbeat(id string) (client.Descriptor, error)

	// GetTask returns the pending training request of a participant. It
	// fails with errors.ErrNotFound when the participant has nothing to do.
	//
	// example:
	//  req, err := sdk.GetTask("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	//  if errors.Is(err, pkgerrors.ErrNotFound) {
	//    // wait and poll again
	//  }
	GetTask(id string) (client.TrainRequest, error)

	// GlobalModel returns the latest aggregated model.
	GlobalModel() (fl.ParameterSet, error)

	// SubmitUpdate sends a locally trained update as JSON.
	//
	// example:
	//  ack, _ := sdk.SubmitUpdate(fl.Update{ClientID: id, Round: req.Round, Params: params, DatasetSize: 1200})
	//  fmt.Println(ack.Accepted)
	SubmitUpdate(u fl.Update) (Ack, error)

	// SubmitUpdateCBOR sends a locally trained update as CBOR.
	SubmitUpdateCBOR(u fl.Update) (Ack, error)

	// ReportFailure tells the coordinator that local training failed.
	ReportFailure(id string, round uint64, reason string) (Ack, error)

	// ListRounds lists recorded round attempts.
	//
	// example:
	//  page, _ := sdk.ListRounds(0, 10)
	//  fmt.Println(page.Total)
	ListRounds(offset, limit uint64) (fl.RoundPage, error)

	// GetRound gets a round attempt by id.
	GetRound(id string) (fl.RoundRecord, error)

	// StartTraining starts a training run in the background.
	StartTraining() (TrainingStatus, error)

	// StopTraining cancels the running training run.
	StopTraining() (TrainingStatus, error)

	// TrainingStatus describes the latest training run.
	TrainingStatus() (TrainingStatus, error)
}

type fedSDK struct {
	coordinatorURL string
	client         *http.Client
}

type Config struct {
	CoordinatorURL  string
	TLSVerification bool
	Timeout         time.Duration
}

func NewSDK(cfg Config) SDK {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defTimeout
	}

	return &fedSDK{
		coordinatorURL: strings.TrimSuffix(cfg.CoordinatorURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *fedSDK) processRequest(method, reqURL, contentType string, data []byte, expectedRespCodes ...int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", contentType)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if !slices.Contains(expectedRespCodes, resp.StatusCode) {
		return []byte{}, responseError(resp.StatusCode, body)
	}

	return body, nil
}

func (sdk *fedSDK) doJSON(method, reqURL string, in, out any, expectedRespCodes ...int) error {
	var data []byte
	if in != nil {
		var err error
		if data, err = json.Marshal(in); err != nil {
			return err
		}
	}

	body, err := sdk.processRequest(method, reqURL, CTJSON, data, expectedRespCodes...)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}

	return json.Unmarshal(body, out)
}

// responseError maps a coordinator error response back to the sentinel the
// server started from, so callers can use errors.Is across the wire.
func responseError(code int, body []byte) error {
	var res struct {
		Err string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &res); err == nil && res.Err != "" {
		msg = res.Err
	}

	var sentinel error
	switch code {
	case http.StatusNotFound:
		sentinel = pkgerrors.ErrNotFound
	case http.StatusConflict:
		sentinel = pkgerrors.ErrConflict
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		sentinel = pkgerrors.ErrInvalidData
	default:
		sentinel = ErrUnexpectedResponse
	}

	return fmt.Errorf("%w: %d %s", sentinel, code, msg)
}

func pageQuery(offset, limit uint64) string {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	if len(queries) == 0 {
		return ""
	}

	return "?" + strings.Join(queries, "&")
}
