package server

import (
	"context"
	"errors"
	"sync"

	"github.com/qualdev/fleet/client/internal/server/dto"
)

// errSuperseded is returned to an event reader replaced by a newer one.
var errSuperseded = errors.New("event stream superseded")

// eventQueue buffers the events of one task until a stream reads them. Each
// event is delivered once. Only the most recently attached reader receives
// events; older readers are told to stop.
type eventQueue struct {
	mu      sync.Mutex
	events  []dto.TaskEvent
	reader  uint64
	changed chan struct{} // closed on push or attach; replaced under mu
}

func newEventQueue() *eventQueue {
	return &eventQueue{changed: make(chan struct{})}
}

func (q *eventQueue) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *eventQueue) push(evs ...dto.TaskEvent) {
	q.mu.Lock()
	q.events = append(q.events, evs...)
	q.notify()
	q.mu.Unlock()
}

// attach registers a new reader and returns its token.
func (q *eventQueue) attach() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reader++
	q.notify()
	return q.reader
}

// next blocks until an event is available for reader.
func (q *eventQueue) next(ctx context.Context, reader uint64) (dto.TaskEvent, error) {
	for {
		q.mu.Lock()
		if q.reader != reader {
			q.mu.Unlock()
			return dto.TaskEvent{}, errSuperseded
		}
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events = q.events[1:]
			q.mu.Unlock()
			return ev, nil
		}
		ch := q.changed
		q.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return dto.TaskEvent{}, ctx.Err()
		}
	}
}
