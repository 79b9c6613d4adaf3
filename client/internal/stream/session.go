package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/qualdev/fleet/client/internal/chat"
)

// Source produces the events of one task. Stream blocks until the transport
// ends, ctx is cancelled, or emit returns false, calling emit for each event
// in arrival order. A nil return means the transport ended normally.
type Source interface {
	Stream(ctx context.Context, taskID string, emit func(Event) bool) error
}

// State is the lifecycle of the current streaming session.
type State int

// Session states.
const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Status is the observable state of a Controller.
type Status struct {
	State     State
	LastError string
}

// IsStreaming reports whether a session is actively receiving a turn.
func (s Status) IsStreaming() bool {
	return s.State == StateStreaming
}

// Controller runs at most one streaming session at a time for a store.
//
// Each Start bumps a generation counter; events delivered by an older
// session are dropped under the same lock that applies them, so a superseded
// transport can never touch the store once Start or Cancel returned.
type Controller struct {
	store *chat.Store
	src   Source

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	status  Status
	changed chan struct{} // closed on status change; replaced under mu
}

// NewController returns an idle controller.
func NewController(store *chat.Store, src Source) *Controller {
	return &Controller{store: store, src: src, changed: make(chan struct{})}
}

// Store returns the store events are applied to.
func (c *Controller) Store() *chat.Store {
	return c.store
}

// Start cancels any running session and opens a new one for taskID. The
// returned channel is closed once the transport goroutine exited.
func (c *Controller) Start(ctx context.Context, taskID string) <-chan struct{} {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.setStatus(Status{State: StateStreaming})
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		err := c.src.Stream(ctx, taskID, func(ev Event) bool {
			return c.deliver(gen, ev)
		})
		c.finish(ctx, gen, err)
	}()
	return done
}

// Cancel stops the current session. Events still in flight are discarded.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.gen++
	if c.status.IsStreaming() {
		c.setStatus(Status{State: StateCancelled})
	}
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Changed returns a channel closed on the next status change.
func (c *Controller) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Wait blocks until the controller is no longer streaming.
func (c *Controller) Wait(ctx context.Context) (Status, error) {
	for {
		c.mu.Lock()
		st, ch := c.status, c.changed
		c.mu.Unlock()
		if !st.IsStreaming() {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

func (c *Controller) setStatus(st Status) {
	if st == c.status {
		return
	}
	c.status = st
	close(c.changed)
	c.changed = make(chan struct{})
}

// deliver applies ev when gen is still current. Events that arrive after
// message_stop on the same session are still applied.
func (c *Controller) deliver(gen uint64, ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		slog.Debug("dropping stale event", "type", ev.Type)
		return false
	}
	switch Apply(c.store, ev) {
	case Stopped:
		if c.status.IsStreaming() {
			c.setStatus(Status{State: StateCompleted})
		}
	case Failed:
		c.setStatus(Status{State: StateFailed, LastError: ev.Err})
	case Continue:
	}
	return true
}

// finish records how the transport ended. A transport that closes without
// message_stop completes the turn silently.
func (c *Controller) finish(ctx context.Context, gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.cancel = nil
	if err != nil && ctx.Err() == nil {
		slog.Warn("stream failed", "err", err)
		c.setStatus(Status{State: StateFailed, LastError: err.Error()})
		return
	}
	if c.status.IsStreaming() {
		c.setStatus(Status{State: StateCompleted})
	}
}
