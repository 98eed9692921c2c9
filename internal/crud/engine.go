package crud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"classlog/internal/metrics"
	"classlog/internal/relstore"
	"classlog/internal/validate"
)

// Engine builds the List View and Form Dialog of one entity.
type Engine[R, F any] struct {
	Spec      *Spec[R, F]
	Store     relstore.Client
	Saga      *Saga
	Validator *validate.Validator
	Log       *zap.Logger
	Metrics   *metrics.Recorder
	Now       func() time.Time
}

// NewEngine wires an engine with defaults for the optional collaborators.
func NewEngine[R, F any](spec *Spec[R, F], store relstore.Client, saga *Saga, v *validate.Validator, log *zap.Logger, rec *metrics.Recorder) *Engine[R, F] {
	if log == nil {
		log = zap.NewNop()
	}
	if v == nil {
		v = validate.New()
	}
	return &Engine[R, F]{Spec: spec, Store: store, Saga: saga, Validator: v, Log: log, Metrics: rec, Now: time.Now}
}

// NewListView returns a view over the entity's list query.
func (e *Engine[R, F]) NewListView() *ListView[R] {
	return NewListView[R](e.Store, e.Spec.ListQuery(), e.Spec.Plural, e.Log.With(zap.String("entity", e.Spec.Name)))
}

// NewDialog returns a closed dialog.
func (e *Engine[R, F]) NewDialog() *Dialog[R, F] {
	now := e.Now
	if now == nil {
		now = time.Now
	}
	return &Dialog[R, F]{
		spec:      e.Spec,
		store:     e.Store,
		saga:      e.Saga,
		validator: e.Validator,
		log:       e.Log.With(zap.String("entity", e.Spec.Name)),
		metrics:   e.Metrics,
		now:       now,
		state:     StateClosed,
		options:   map[string][]Option{},
	}
}

// Get reads one record with its display joins.
func (e *Engine[R, F]) Get(ctx context.Context, id string) (R, error) {
	var rec R
	q := e.Spec.ListQuery()
	q.Limit = 0
	rows, err := e.Store.Select(ctx, q.Where("id", id))
	if err != nil {
		return rec, err
	}
	if len(rows) == 0 {
		return rec, fmt.Errorf("%s %s: %w", e.Spec.Table, id, relstore.ErrNotFound)
	}
	if err := relstore.Decode(rows[0], &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// Transition sets the status column of one record. Status values replace deletion, which the
// dashboard does not offer.
func (e *Engine[R, F]) Transition(ctx context.Context, id, status string) error {
	if len(e.Spec.Statuses) == 0 {
		return fmt.Errorf("%s have no status", e.Spec.Plural)
	}
	tag := "required,oneof=" + strings.Join(e.Spec.Statuses, " ")
	if err := e.Validator.Var("status", status, tag); err != nil {
		return err
	}
	_, err := e.Store.Update(ctx, e.Spec.Table, id, relstore.Row{"status": status})
	return err
}
