package client

import (
	"sync"

	"github.com/absmach/federate/pkg/fl"
)

// Handle is the pending result of one Train call. It resolves exactly once.
type Handle struct {
	clientID string
	once     sync.Once
	done     chan struct{}
	update   fl.Update
	err      error
}

func NewHandle(clientID string) *Handle {
	return &Handle{
		clientID: clientID,
		done:     make(chan struct{}),
	}
}

func (h *Handle) ClientID() string {
	return h.clientID
}

// Done is closed once the handle resolves.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result must only be called after Done is closed.
func (h *Handle) Result() (fl.Update, error) {
	return h.update, h.err
}

// Resolve completes the handle with an update. It returns false if the handle
// was already resolved.
func (h *Handle) Resolve(u fl.Update) bool {
	return h.complete(u, nil)
}

// Fail completes the handle with an error.
func (h *Handle) Fail(err error) bool {
	return h.complete(fl.Update{}, err)
}

func (h *Handle) complete(u fl.Update, err error) bool {
	resolved := false
	h.once.Do(func() {
		h.update = u
		h.err = err
		resolved = true
		close(h.done)
	})

	return resolved
}
