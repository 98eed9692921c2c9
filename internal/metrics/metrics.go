// Package metrics exposes prometheus collectors for the API and worker.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"classlog/internal/relstore"
)

// Recorder groups the collectors. A nil *Recorder records nothing.
type Recorder struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	storeOps      *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	compensations *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classlog",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "classlog",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classlog",
			Name:      "store_operations_total",
			Help:      "Relational store calls by table, operation and outcome.",
		}, []string{"table", "op", "outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classlog",
			Name:      "form_submissions_total",
			Help:      "Form dialog submissions by entity, mode and outcome.",
		}, []string{"entity", "mode", "outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classlog",
			Name:      "identity_compensations_total",
			Help:      "Orphaned identity cleanups by outcome (deleted, queued, failed, dropped).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(r.requests, r.latency, r.storeOps, r.submissions, r.compensations)
	return r
}

// Submission counts one dialog submit.
func (r *Recorder) Submission(entity, mode, outcome string) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(entity, mode, outcome).Inc()
}

// Compensation counts one identity cleanup attempt.
func (r *Recorder) Compensation(outcome string) {
	if r == nil {
		return
	}
	r.compensations.WithLabelValues(outcome).Inc()
}

func (r *Recorder) storeOp(table, op string, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.storeOps.WithLabelValues(table, op, outcome).Inc()
}

// GinMiddleware records request counts and latency keyed by the route template.
func (r *Recorder) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		r.latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Store wraps a relstore.Client and counts every call.
type Store struct {
	next relstore.Client
	rec  *Recorder
}

// InstrumentStore returns next wrapped with call counters.
func InstrumentStore(next relstore.Client, rec *Recorder) *Store {
	return &Store{next: next, rec: rec}
}

func (s *Store) Select(ctx context.Context, q relstore.Query) ([]relstore.Row, error) {
	rows, err := s.next.Select(ctx, q)
	s.rec.storeOp(q.Table, "select", err)
	return rows, err
}

func (s *Store) Insert(ctx context.Context, table string, values relstore.Row) (relstore.Row, error) {
	row, err := s.next.Insert(ctx, table, values)
	s.rec.storeOp(table, "insert", err)
	return row, err
}

func (s *Store) Update(ctx context.Context, table, id string, values relstore.Row) (relstore.Row, error) {
	row, err := s.next.Update(ctx, table, id, values)
	s.rec.storeOp(table, "update", err)
	return row, err
}

func (s *Store) Count(ctx context.Context, table string) (int, error) {
	n, err := s.next.Count(ctx, table)
	s.rec.storeOp(table, "count", err)
	return n, err
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	err := s.next.Delete(ctx, table, id)
	s.rec.storeOp(table, "delete", err)
	return err
}
