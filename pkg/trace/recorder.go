// Package trace stores the execution record of each completed run.
package trace

import (
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/workbench/internal/observability"
	"github.com/harun/workbench/pkg/engine"
)

var (
	ErrNotFound = errors.New("trace not found")
	ErrExists   = errors.New("trace already recorded")
)

// RunRecord is the write-once record of a completed run.
type RunRecord struct {
	RunID          string            `json:"run_id"`
	AgentID        string            `json:"agent_id"`
	ConversationID string            `json:"conversation_id"`
	RawResponses   []json.RawMessage `json:"raw_responses"`
	NewItems       []engine.Item     `json:"new_items"`
	Timestamp      time.Time         `json:"timestamp"`
}

type Config struct {
	// MaxTraces bounds the recorder. Zero means unbounded.
	MaxTraces int
	Logger    zerolog.Logger
}

// Recorder keeps run records by run id.
type Recorder struct {
	mu     sync.RWMutex
	byID   map[string]*list.Element
	order  *list.List
	max    int
	logger zerolog.Logger
}

func NewRecorder(cfg Config) *Recorder {
	observability.EnsureRegistered()
	return &Recorder{
		byID:   make(map[string]*list.Element),
		order:  list.New(),
		max:    cfg.MaxTraces,
		logger: cfg.Logger.With().Str("component", "trace-recorder").Logger(),
	}
}

// Record stores rec. A run id can be recorded once.
func (r *Recorder) Record(rec RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.RawResponses == nil {
		rec.RawResponses = []json.RawMessage{}
	}
	if rec.NewItems == nil {
		rec.NewItems = []engine.Item{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[rec.RunID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, rec.RunID)
	}
	r.byID[rec.RunID] = r.order.PushBack(rec)

	for r.max > 0 && r.order.Len() > r.max {
		oldest := r.order.Front()
		evicted := oldest.Value.(RunRecord)
		r.order.Remove(oldest)
		delete(r.byID, evicted.RunID)
		r.logger.Debug().Str("run_id", evicted.RunID).Msg("Evicted trace")
	}

	observability.SetTraces(r.order.Len())
	return nil
}

// Get returns the record for runID.
func (r *Recorder) Get(runID string) (RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	el, ok := r.byID[runID]
	if !ok {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return el.Value.(RunRecord), nil
}

func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.order.Len()
}
