package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
	"github.com/folioworks/lib-mediator/mediator/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig controls the delivery circuit breaker thresholds.
type BreakerConfig struct {
	// MaxRequests is the number of probe deliveries allowed half-open.
	MaxRequests uint32
	// Interval is the closed-state counter reset window.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker regardless of ratio.
	ConsecutiveFailures uint32
	// FailureRatio trips the breaker once MinRequests are observed.
	FailureRatio float64
	// MinRequests is the sample floor before FailureRatio applies.
	MinRequests uint32
}

// DefaultBreakerConfig returns thresholds tuned for broker delivery:
// trip quickly so a dead broker does not burn through entry attempts,
// recover with a short probe window.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// BreakerTarget decorates a Target with a circuit breaker. While the
// breaker is open, deliveries fail fast without touching the downstream
// target; failed entries stay FAILED and retry after the window, so an
// open breaker costs no entry attempts beyond the one that observed it.
type BreakerTarget struct {
	next    Target
	breaker *gobreaker.CircuitBreaker
	logger  log.Logger
}

// NewBreakerTarget wraps next with a named circuit breaker.
func NewBreakerTarget(name string, next Target, cfg BreakerConfig, logger log.Logger) (*BreakerTarget, error) {
	if nilcheck.Interface(next) {
		return nil, ErrTargetRequired
	}

	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	target := &BreakerTarget{next: next, logger: logger}

	settings := gobreaker.Settings{
		Name:        "outbox-target-" + name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures ||
				(counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio)
		},
		OnStateChange: func(breakerName string, from gobreaker.State, to gobreaker.State) {
			logger.Log(
				context.Background(),
				log.LevelWarn,
				"outbox delivery breaker state changed",
				log.String("breaker", breakerName),
				log.String("from", from.String()),
				log.String("to", to.String()),
			)
		},
	}

	target.breaker = gobreaker.NewCircuitBreaker(settings)

	return target, nil
}

// Deliver runs the delivery through the breaker.
func (target *BreakerTarget) Deliver(ctx context.Context, entry *Entry) error {
	if target == nil {
		return ErrTargetRequired
	}

	_, err := target.breaker.Execute(func() (any, error) {
		return nil, target.next.Deliver(ctx, entry)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("outbox delivery target unavailable: %w", err)
	}

	return err
}

// State exposes the current breaker state for health reporting.
func (target *BreakerTarget) State() gobreaker.State {
	return target.breaker.State()
}
