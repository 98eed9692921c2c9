package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classlog/internal/metrics"
	"classlog/internal/queue"
	"classlog/internal/relstore"
)

type flakyDeleter struct {
	mu     sync.Mutex
	fails  int
	always bool
	calls  []string
	called chan struct{}
}

func (d *flakyDeleter) DeleteIdentity(ctx context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, userID)
	if d.called != nil {
		d.called <- struct{}{}
	}
	if d.always {
		return errors.New("gateway timeout")
	}
	if d.fails > 0 {
		d.fails--
		return errors.New("gateway timeout")
	}
	return nil
}

func (d *flakyDeleter) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func next(t *testing.T, q *queue.InMemory) queue.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-ch:
		return msg
	case <-ctx.Done():
		t.Fatal("no message queued")
	}
	return queue.Message{}
}

func TestHandleDeletes(t *testing.T) {
	reg := prometheus.NewRegistry()
	q := queue.NewInMemory(4)
	d := &flakyDeleter{}
	c := &Compensator{Deleter: d, Queue: q, MaxAttempts: 3, Metrics: metrics.New(reg)}

	c.Handle(context.Background(), queue.Message{Type: queue.TypeCompensateIdentity, UserID: "U1", Attempt: 1})
	assert.Equal(t, []string{"U1"}, d.calls)
	assert.Equal(t, 0, q.Len())

	expected := `
# HELP classlog_identity_compensations_total Orphaned identity cleanups by outcome (deleted, queued, failed, dropped).
# TYPE classlog_identity_compensations_total counter
classlog_identity_compensations_total{outcome="deleted"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "classlog_identity_compensations_total"))
}

type missingDeleter struct{}

func (missingDeleter) DeleteIdentity(ctx context.Context, userID string) error {
	return relstore.ErrNotFound
}

func TestHandleTreatsMissingIdentityAsDone(t *testing.T) {
	q := queue.NewInMemory(4)
	c := &Compensator{Deleter: missingDeleter{}, Queue: q, MaxAttempts: 3}
	c.Handle(context.Background(), queue.Message{Type: queue.TypeCompensateIdentity, UserID: "U1", Attempt: 2})
	assert.Equal(t, 0, q.Len())
}

func TestHandleRetriesInPlace(t *testing.T) {
	reg := prometheus.NewRegistry()
	q := queue.NewInMemory(4)
	d := &flakyDeleter{fails: 1}
	c := &Compensator{Deleter: d, Queue: q, MaxAttempts: 3, Metrics: metrics.New(reg)}

	c.Handle(context.Background(), queue.Message{Type: queue.TypeCompensateIdentity, UserID: "U1", Reason: "duplicate", Attempt: 1})
	assert.Equal(t, []string{"U1", "U1"}, d.calls)
	assert.Equal(t, 0, q.Len())

	expected := `
# HELP classlog_identity_compensations_total Orphaned identity cleanups by outcome (deleted, queued, failed, dropped).
# TYPE classlog_identity_compensations_total counter
classlog_identity_compensations_total{outcome="deleted"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "classlog_identity_compensations_total"))
}

func TestHandleStopsAtMaxAttempts(t *testing.T) {
	q := queue.NewInMemory(4)
	d := &flakyDeleter{always: true}
	c := &Compensator{Deleter: d, Queue: q, MaxAttempts: 3}

	c.Handle(context.Background(), queue.Message{Type: queue.TypeCompensateIdentity, UserID: "U1", Attempt: 1})
	assert.Equal(t, []string{"U1", "U1", "U1"}, d.calls)
	assert.Equal(t, 0, q.Len())
}

func TestHandleHandsBackOnShutdown(t *testing.T) {
	q := queue.NewInMemory(4)
	c := &Compensator{Deleter: &flakyDeleter{always: true}, Queue: q, MaxAttempts: 3}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Handle(ctx, queue.Message{Type: queue.TypeCompensateIdentity, UserID: "U1", Reason: "duplicate", Attempt: 2})

	require.Equal(t, 1, q.Len())
	msg := next(t, q)
	assert.Equal(t, 2, msg.Attempt)
	assert.Equal(t, "U1", msg.UserID)
	assert.Equal(t, "duplicate", msg.Reason)
}

func TestHandBackGivesUpOnFullQueue(t *testing.T) {
	reg := prometheus.NewRegistry()
	q := queue.NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), queue.Message{Type: queue.TypeCompensateIdentity, UserID: "U0", Attempt: 1}))
	c := &Compensator{Deleter: &flakyDeleter{always: true}, Queue: q, MaxAttempts: 3, PublishTimeout: 20 * time.Millisecond, Metrics: metrics.New(reg)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		c.Handle(ctx, queue.Message{Type: queue.TypeCompensateIdentity, UserID: "U1", Attempt: 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hand back blocked on a full queue")
	}
	assert.Equal(t, 1, q.Len())

	expected := `
# HELP classlog_identity_compensations_total Orphaned identity cleanups by outcome (deleted, queued, failed, dropped).
# TYPE classlog_identity_compensations_total counter
classlog_identity_compensations_total{outcome="failed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "classlog_identity_compensations_total"))
}

func TestRunKeepsDrainingSmallQueue(t *testing.T) {
	q := queue.NewInMemory(1)
	d := &flakyDeleter{always: true}
	c := &Compensator{Deleter: d, Queue: q, MaxAttempts: 3}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	// Publishers use a bounded wait, the same way the creation saga does.
	for _, id := range []string{"U1", "U2", "U3", "U4"} {
		pubCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		err := q.Publish(pubCtx, queue.Message{Type: queue.TypeCompensateIdentity, UserID: id, Attempt: 1})
		stop()
		require.NoError(t, err, "publish %s", id)
	}

	assert.Eventually(t, func() bool { return d.Calls() == 12 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Len())
}

func TestHandleDropsAfterMaxAttempts(t *testing.T) {
	reg := prometheus.NewRegistry()
	q := queue.NewInMemory(4)
	c := &Compensator{Deleter: &flakyDeleter{fails: 1}, Queue: q, MaxAttempts: 3, Metrics: metrics.New(reg)}

	c.Handle(context.Background(), queue.Message{Type: queue.TypeCompensateIdentity, UserID: "U1", Attempt: 3})
	assert.Equal(t, 0, q.Len())

	expected := `
# HELP classlog_identity_compensations_total Orphaned identity cleanups by outcome (deleted, queued, failed, dropped).
# TYPE classlog_identity_compensations_total counter
classlog_identity_compensations_total{outcome="dropped"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "classlog_identity_compensations_total"))
}

func TestRunRetriesUntilDeleted(t *testing.T) {
	q := queue.NewInMemory(4)
	d := &flakyDeleter{fails: 1, called: make(chan struct{}, 4)}
	c := &Compensator{Deleter: d, Queue: q, MaxAttempts: 3}

	require.NoError(t, q.Publish(context.Background(), queue.Message{Type: "unknown"}))
	require.NoError(t, q.Publish(context.Background(), queue.Message{Type: queue.TypeCompensateIdentity, UserID: "U9", Attempt: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-d.called:
		case <-time.After(2 * time.Second):
			t.Fatal("deleter not called")
		}
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, []string{"U9", "U9"}, d.calls)
}
