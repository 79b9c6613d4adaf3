package chat

import (
	"context"
	"sync"
)

// Snapshot is an immutable view of the conversation. Callers must not modify
// Messages or the blocks they hold.
type Snapshot struct {
	Version  uint64
	Messages []Message
}

// Store owns the message list of one task. Every mutation replaces the list
// with a new one, so a Snapshot taken earlier never changes.
type Store struct {
	mu      sync.Mutex
	msgs    []Message
	version uint64
	subs    []*sub
}

// NewStore returns a store holding the seed conversation.
func NewStore() *Store {
	return &Store{msgs: Seed()}
}

// Snapshot returns the current conversation.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Version: s.version, Messages: s.msgs}
}

// Messages returns the current message list.
func (s *Store) Messages() []Message {
	return s.Snapshot().Messages
}

// update applies fn under the lock and publishes the result when fn reports
// a change.
func (s *Store) update(fn func([]Message) ([]Message, bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, changed := fn(s.msgs)
	if !changed {
		return false
	}
	s.msgs = next
	s.version++
	snap := Snapshot{Version: s.version, Messages: next}
	// Non-blocking fan-out: slow subscribers are dropped.
	for i := 0; i < len(s.subs); i++ {
		select {
		case s.subs[i].ch <- snap:
		default:
			s.subs[i].close()
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			i--
		}
	}
	return true
}

func always(fn func([]Message) []Message) func([]Message) ([]Message, bool) {
	return func(m []Message) ([]Message, bool) { return fn(m), true }
}

// Append adds b to the last message when it has role, else starts a new
// message.
func (s *Store) Append(role Role, b Block) {
	s.update(always(func(m []Message) []Message { return appendBlock(m, role, "", b) }))
}

// AppendOrCreateWithID adds b to the message with id, creating one with that
// id when none exists.
func (s *Store) AppendOrCreateWithID(role Role, id string, b Block) {
	s.update(always(func(m []Message) []Message { return appendOrCreateWithID(m, role, id, b) }))
}

// ReplaceOrAppendByID replaces the block satisfying match in any message, or
// adds b to the message with id, creating it when needed.
func (s *Store) ReplaceOrAppendByID(role Role, id string, b Block, match func(Block) bool) {
	s.update(always(func(m []Message) []Message { return replaceOrAppendByID(m, role, id, b, match) }))
}

// ReplaceOrAppendMatching replaces the first block of the last message that
// satisfies match, or appends b.
func (s *Store) ReplaceOrAppendMatching(role Role, b Block, match func(Block) bool) {
	s.update(always(func(m []Message) []Message { return replaceOrAppendMatching(m, role, b, match) }))
}

// MergeResult attaches a tool_result to the message holding its call. It
// reports false when the result was a duplicate or had no matching call.
func (s *Store) MergeResult(b Block) bool {
	return s.update(func(m []Message) ([]Message, bool) { return mergeResult(m, b) })
}

// AppendTextDelta extends the streaming text of the last message.
func (s *Store) AppendTextDelta(role Role, fragment string) {
	s.update(always(func(m []Message) []Message { return appendTextDelta(m, role, fragment) }))
}

// UpdateTextByID extends the text of the message with id. It reports false
// when no such message exists.
func (s *Store) UpdateTextByID(id, fragment string) bool {
	return s.update(func(m []Message) ([]Message, bool) { return updateTextByID(m, id, fragment) })
}

// CreateWithID adds an empty message with id unless one exists.
func (s *Store) CreateWithID(role Role, id string) bool {
	return s.update(func(m []Message) ([]Message, bool) { return createWithID(m, role, id) })
}

// AddUserText appends a new user message holding text and returns its id.
func (s *Store) AddUserText(text string) string {
	id := NewID()
	s.update(always(func(m []Message) []Message {
		return pushMessage(m, Message{ID: id, Role: RoleUser, Content: []Block{Text(text)}})
	}))
	return id
}

// Replace swaps in persisted history. A history of zero or one message is
// ignored so the seed conversation stays visible for a fresh task.
func (s *Store) Replace(msgs []Message) bool {
	if len(msgs) <= 1 {
		return false
	}
	cp := append([]Message(nil), msgs...)
	return s.update(func([]Message) ([]Message, bool) { return cp, true })
}

// Reset restores the seed conversation.
func (s *Store) Reset() {
	s.update(always(func([]Message) []Message { return Seed() }))
}

// SetUserPrompt fills the seed user message with the task description.
func (s *Store) SetUserPrompt(text string) bool {
	return s.update(func(m []Message) ([]Message, bool) { return setUserPrompt(m, text) })
}

// sub is a snapshot subscriber with a once-guarded close, since both the
// fan-out and context cancellation may close it.
type sub struct {
	ch   chan Snapshot
	once sync.Once
}

func (s *sub) close() {
	s.once.Do(func() { close(s.ch) })
}

// Subscribe returns the current snapshot and a channel receiving every later
// one. The channel is closed when ctx is done or when the subscriber falls
// too far behind.
func (s *Store) Subscribe(ctx context.Context) (Snapshot, <-chan Snapshot) {
	sb := &sub{ch: make(chan Snapshot, 256)}
	s.mu.Lock()
	cur := Snapshot{Version: s.version, Messages: s.msgs}
	s.subs = append(s.subs, sb)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, ss := range s.subs {
			if ss == sb {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		sb.close()
	}()
	return cur, sb.ch
}

// Registry maps task ids to their stores.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// Get returns the store of taskID, creating a seeded one on first use.
func (r *Registry) Get(taskID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stores == nil {
		r.stores = map[string]*Store{}
	}
	s, ok := r.stores[taskID]
	if !ok {
		s = NewStore()
		r.stores[taskID] = s
	}
	return s
}

// Drop forgets the store of taskID.
func (r *Registry) Drop(taskID string) {
	r.mu.Lock()
	delete(r.stores, taskID)
	r.mu.Unlock()
}
