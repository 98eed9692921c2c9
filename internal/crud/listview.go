package crud

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"classlog/internal/relstore"
)

// ErrSuperseded is returned by a Load whose result was discarded because a newer Load or a
// Close happened while it was in flight.
var ErrSuperseded = errors.New("load superseded")

// ListState is a point-in-time copy of a List View.
type ListState[R any] struct {
	Rows         []R           `json:"rows"`
	Loading      bool          `json:"loading"`
	Notification *Notification `json:"notification,omitempty"`
}

// ListView fetches and holds every row of one entity.
type ListView[R any] struct {
	store  relstore.Client
	query  relstore.Query
	plural string
	log    *zap.Logger

	mu           sync.Mutex
	rows         []R
	loading      bool
	notification *Notification
	generation   uint64
	cancel       context.CancelFunc
}

// NewListView builds a view that issues query on every Load.
func NewListView[R any](store relstore.Client, query relstore.Query, plural string, log *zap.Logger) *ListView[R] {
	if log == nil {
		log = zap.NewNop()
	}
	return &ListView[R]{store: store, query: query, plural: plural, log: log, rows: []R{}}
}

// Load replaces the rows with a fresh read. A failed read keeps the previous rows and sets an
// error notification. Starting a Load cancels any Load still in flight.
func (v *ListView[R]) Load(ctx context.Context) error {
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	v.generation++
	gen := v.generation
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.loading = true
	v.notification = nil
	v.mu.Unlock()
	defer cancel()

	rows, err := v.store.Select(ctx, v.query)
	var recs []R
	if err == nil {
		recs, err = relstore.DecodeAll[R](rows)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.generation {
		return ErrSuperseded
	}
	v.loading = false
	v.cancel = nil
	if err != nil {
		v.log.Error("list fetch failed", zap.String("table", v.query.Table), zap.Error(err))
		v.notification = Failure("Failed to fetch " + v.plural)
		return err
	}
	v.rows = recs
	return nil
}

// Close cancels an in-flight Load and discards its result.
func (v *ListView[R]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.generation++
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.loading = false
}

// Snapshot copies the current state.
func (v *ListView[R]) Snapshot() ListState[R] {
	v.mu.Lock()
	defer v.mu.Unlock()
	rows := make([]R, len(v.rows))
	copy(rows, v.rows)
	return ListState[R]{Rows: rows, Loading: v.loading, Notification: v.notification}
}
