package client

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	RegisterTopicTemplate = "m/%s/c/%s/fl/clients/register"
	AliveTopicTemplate    = "m/%s/c/%s/fl/clients/alive"
	UpdateTopicTemplate   = "m/%s/c/%s/fl/updates"
	FailureTopicTemplate  = "m/%s/c/%s/fl/failures"
	TrainTopicTemplate    = "m/%s/c/%s/fl/clients/%s/train"
	RoundsTopicTemplate   = "m/%s/c/%s/fl/rounds/completed"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, msg any) error
}

// Mailbox holds the outstanding training request of each remote client so
// that pull-based clients can fetch it.
type Mailbox struct {
	mu    sync.Mutex
	tasks map[string]TrainRequest
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		tasks: make(map[string]TrainRequest),
	}
}

func (m *Mailbox) Put(clientID string, req TrainRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[clientID] = req
}

// Get returns the pending request unless its deadline already passed.
func (m *Mailbox) Get(clientID string, now time.Time) (TrainRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.tasks[clientID]
	if !ok {
		return TrainRequest{}, false
	}
	if !req.Deadline.IsZero() && now.After(req.Deadline) {
		delete(m.tasks, clientID)

		return TrainRequest{}, false
	}

	return req, true
}

func (m *Mailbox) Clear(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tasks, clientID)
}

var _ Agent = (*RemoteAgent)(nil)

// RemoteAgent dispatches work to a client running in another process. The
// request is queued in the mailbox and, when a publisher is configured, pushed
// to the client's train topic. Updates come back through the coordinator's
// submission path, so the returned handle is left for the round to abandon.
type RemoteAgent struct {
	id        string
	mailbox   *Mailbox
	pub       Publisher
	domainID  string
	channelID string
}

func NewRemoteAgent(id string, mailbox *Mailbox, pub Publisher, domainID, channelID string) *RemoteAgent {
	return &RemoteAgent{
		id:        id,
		mailbox:   mailbox,
		pub:       pub,
		domainID:  domainID,
		channelID: channelID,
	}
}

func (a *RemoteAgent) ID() string {
	return a.id
}

func (a *RemoteAgent) Train(ctx context.Context, req TrainRequest) (*Handle, error) {
	a.mailbox.Put(a.id, req)

	if a.pub != nil {
		topic := fmt.Sprintf(TrainTopicTemplate, a.domainID, a.channelID, a.id)
		if err := a.pub.Publish(ctx, topic, req); err != nil {
			a.mailbox.Clear(a.id)

			return nil, fmt.Errorf("failed to dispatch training request: %w", err)
		}
	}

	return NewHandle(a.id), nil
}
