package crud

import (
	"context"
	"time"

	"go.uber.org/zap"

	"classlog/internal/auth"
	"classlog/internal/metrics"
	"classlog/internal/queue"
)

// SagaState tracks a two-phase identity plus domain-row creation.
type SagaState string

const (
	SagaPending          SagaState = "pending"
	SagaIdentityCreated  SagaState = "identity_created"
	SagaDomainRowCreated SagaState = "domain_row_created"
	SagaFailed           SagaState = "failed"
)

// SagaResult reports how far a run got and what cleanup happened.
type SagaResult struct {
	State              SagaState `json:"state"`
	UserID             string    `json:"user_id,omitempty"`
	Compensated        bool      `json:"compensated"`
	CompensationQueued bool      `json:"compensation_queued"`
	Err                error     `json:"-"`
}

// Saga creates an identity, then the row that references it, deleting the identity again when
// the second step fails.
type Saga struct {
	gateway auth.Gateway
	queue   queue.Queue
	log     *zap.Logger
	metrics *metrics.Recorder
	// publishTimeout bounds the wait for queue capacity.
	publishTimeout time.Duration
}

// DefaultPublishTimeout is how long a failed compensation waits for queue capacity.
const DefaultPublishTimeout = 5 * time.Second

// NewSaga builds a saga. A nil queue disables deferred compensation.
func NewSaga(gateway auth.Gateway, q queue.Queue, log *zap.Logger, rec *metrics.Recorder) *Saga {
	if log == nil {
		log = zap.NewNop()
	}
	return &Saga{gateway: gateway, queue: q, log: log, metrics: rec, publishTimeout: DefaultPublishTimeout}
}

// Run signs up exactly once and hands the new identity id to create. When create fails the
// identity is deleted inline; if that fails too a compensation message is queued for the worker.
func (s *Saga) Run(ctx context.Context, req auth.SignUpRequest, create func(ctx context.Context, userID string) error) SagaResult {
	res := SagaResult{State: SagaPending}

	id, err := s.gateway.SignUp(ctx, req)
	if err != nil {
		res.State = SagaFailed
		res.Err = err
		return res
	}
	res.State = SagaIdentityCreated
	res.UserID = id.UserID

	if create == nil {
		return res
	}
	if err := create(ctx, id.UserID); err != nil {
		res.State = SagaFailed
		res.Err = err
		s.compensate(ctx, &res)
		return res
	}
	res.State = SagaDomainRowCreated
	return res
}

func (s *Saga) compensate(ctx context.Context, res *SagaResult) {
	// Cleanup must outlive a cancelled request.
	ctx = context.WithoutCancel(ctx)

	err := s.gateway.DeleteIdentity(ctx, res.UserID)
	if err == nil {
		res.Compensated = true
		s.metrics.Compensation("deleted")
		return
	}
	s.log.Warn("inline identity compensation failed", zap.String("user_id", res.UserID), zap.Error(err))

	if s.queue == nil {
		s.metrics.Compensation("failed")
		return
	}
	msg := queue.Message{Type: queue.TypeCompensateIdentity, UserID: res.UserID, Reason: res.Err.Error(), Attempt: 1}
	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.queue.Publish(pubCtx, msg); err != nil {
		s.log.Error("queue compensation failed", zap.String("user_id", res.UserID), zap.Error(err))
		s.metrics.Compensation("failed")
		return
	}
	res.CompensationQueued = true
	s.metrics.Compensation("queued")
}
