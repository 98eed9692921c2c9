// Package worker drains the compensation queue, deleting identities whose domain row was never
// written.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"classlog/internal/metrics"
	"classlog/internal/queue"
	"classlog/internal/relstore"
)

// Deleter removes an identity and its profile rows.
type Deleter interface {
	DeleteIdentity(ctx context.Context, userID string) error
}

// Compensator retries identity deletions handed over by the creation saga.
type Compensator struct {
	Deleter     Deleter
	Queue       queue.Queue
	MaxAttempts int
	// Backoff is waited between attempts, scaled by the attempt number.
	Backoff time.Duration
	// PublishTimeout bounds the shutdown hand-back of an unfinished message.
	PublishTimeout time.Duration
	Log            *zap.Logger
	Metrics        *metrics.Recorder
}

const (
	defaultMaxAttempts    = 5
	defaultPublishTimeout = 5 * time.Second
)

// Run consumes until ctx is cancelled.
func (c *Compensator) Run(ctx context.Context) error {
	log := c.logger()
	messages, err := c.Queue.Consume(ctx)
	if err != nil {
		return err
	}
	log.Info("compensation worker started", zap.Int("max_attempts", c.maxAttempts()))
	for msg := range messages {
		if msg.Type != queue.TypeCompensateIdentity {
			log.Warn("skipping unknown message", zap.String("type", msg.Type))
			continue
		}
		c.Handle(ctx, msg)
	}
	log.Info("compensation worker stopped")
	return nil
}

// Handle retries one deletion in place until it succeeds or Attempt reaches MaxAttempts.
// The worker never publishes into the queue it drains, except to hand an unfinished message back
// on shutdown.
func (c *Compensator) Handle(ctx context.Context, msg queue.Message) {
	if msg.Attempt < 1 {
		msg.Attempt = 1
	}
	for {
		log := c.logger().With(zap.String("user_id", msg.UserID), zap.Int("attempt", msg.Attempt))

		err := c.Deleter.DeleteIdentity(ctx, msg.UserID)
		if err == nil || errors.Is(err, relstore.ErrNotFound) {
			log.Info("orphaned identity deleted", zap.String("reason", msg.Reason))
			c.Metrics.Compensation("deleted")
			return
		}
		if ctx.Err() != nil {
			c.handBack(ctx, msg, log)
			return
		}

		log.Warn("identity deletion failed", zap.Error(err))
		if msg.Attempt >= c.maxAttempts() {
			log.Error("giving up on orphaned identity", zap.Error(err))
			c.Metrics.Compensation("dropped")
			return
		}
		if !c.wait(ctx, c.Backoff*time.Duration(msg.Attempt)) {
			msg.Attempt++
			c.handBack(ctx, msg, log)
			return
		}
		msg.Attempt++
	}
}

// wait reports false when ctx ends first.
func (c *Compensator) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// handBack re-publishes msg for the next worker. The publish is bounded: an in-process queue has
// no consumer left once Run is stopping.
func (c *Compensator) handBack(ctx context.Context, msg queue.Message, log *zap.Logger) {
	timeout := c.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := c.Queue.Publish(pubCtx, msg); err != nil {
		log.Error("hand back compensation failed", zap.Error(err))
		c.Metrics.Compensation("failed")
		return
	}
	c.Metrics.Compensation("queued")
}

func (c *Compensator) maxAttempts() int {
	if c.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return c.MaxAttempts
}

func (c *Compensator) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}
