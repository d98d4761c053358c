// Package conversation keeps the running message history of every
// conversation in process memory.
package conversation

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/workbench/internal/observability"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

var ErrNotFound = errors.New("conversation not found")

// Message is one entry in a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type entry struct {
	id       string
	messages []Message
	holds    int
}

// Ledger maps conversation ids to ordered messages. With MaxConversations
// set, the conversation created longest ago is evicted when a new one would
// exceed the bound. Held conversations are never evicted, so the ledger may
// exceed the bound while every older conversation has a run in flight.
type Ledger struct {
	mu    sync.RWMutex
	byID  map[string]*list.Element
	order *list.List
	max   int
	now   func() time.Time

	logger zerolog.Logger
}

type Config struct {
	// MaxConversations bounds the ledger. Zero means unbounded.
	MaxConversations int
	Logger           zerolog.Logger
}

func NewLedger(cfg Config) *Ledger {
	observability.EnsureRegistered()
	return &Ledger{
		byID:   make(map[string]*list.Element),
		order:  list.New(),
		max:    cfg.MaxConversations,
		now:    time.Now,
		logger: cfg.Logger.With().Str("component", "conversation-ledger").Logger(),
	}
}

func (l *Ledger) ensureLocked(id string) *entry {
	if el, ok := l.byID[id]; ok {
		return el.Value.(*entry)
	}

	e := &entry{id: id}
	l.byID[id] = l.order.PushBack(e)

	for l.max > 0 && l.order.Len() > l.max {
		victim := l.evictable(e)
		if victim == nil {
			l.logger.Warn().Int("conversations", l.order.Len()).Msg("Every conversation is held, bound exceeded")
			break
		}
		evicted := victim.Value.(*entry)
		l.order.Remove(victim)
		delete(l.byID, evicted.id)
		l.logger.Debug().Str("conversation_id", evicted.id).Msg("Evicted conversation")
	}

	observability.SetConversations(l.order.Len())
	return e
}

// evictable returns the oldest conversation that is not held, skipping keep.
func (l *Ledger) evictable(keep *entry) *list.Element {
	for el := l.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e != keep && e.holds == 0 {
			return el
		}
	}
	return nil
}

// Hold creates id if needed and protects it from eviction until the
// returned release func is called. Holds nest.
func (l *Ledger) Hold(id string) (release func()) {
	l.mu.Lock()
	e := l.ensureLocked(id)
	e.holds++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			e.holds--
			l.mu.Unlock()
		})
	}
}

// Append adds a message, creating the conversation if needed.
func (l *Ledger) Append(id, role, content string) Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := Message{Role: role, Content: content, Timestamp: l.now()}
	e := l.ensureLocked(id)
	e.messages = append(e.messages, msg)
	return msg
}

// Get returns a copy of the messages in id.
func (l *Ledger) Get(id string) ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	el, ok := l.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	msgs := el.Value.(*entry).messages
	return append(make([]Message, 0, len(msgs)), msgs...), nil
}

// List returns a copy of every conversation keyed by id.
func (l *Ledger) List() map[string][]Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string][]Message, len(l.byID))
	for id, el := range l.byID {
		msgs := el.Value.(*entry).messages
		out[id] = append(make([]Message, 0, len(msgs)), msgs...)
	}
	return out
}

// Delete removes a conversation.
func (l *Ledger) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	l.order.Remove(el)
	delete(l.byID, id)
	observability.SetConversations(l.order.Len())
	return nil
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.order.Len()
}
