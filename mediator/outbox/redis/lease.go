package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/folioworks/lib-mediator/mediator"
	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
	"github.com/folioworks/lib-mediator/mediator/log"
	"github.com/folioworks/lib-mediator/mediator/outbox"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

const defaultLeaseExpiry = 30 * time.Second

var (
	ErrClientRequired      = errors.New("redis client is required")
	ErrLeaseKeyRequired    = errors.New("lease key is required")
	ErrLeaseExpiryInvalid  = errors.New("lease expiry must be greater than 0")
	ErrLeaseNotHeld        = errors.New("lease was not held or already expired")
	ErrLeaseNotInitialized = errors.New("lease is not initialized")
)

// Option configures a Lease.
type Option func(*Lease)

// WithLogger sets the logger used when no logger travels in the context.
func WithLogger(logger log.Logger) Option {
	return func(lease *Lease) {
		if nilcheck.Interface(logger) {
			return
		}

		lease.logger = logger
	}
}

// WithExpiry bounds how long a crashed replica can hold the lease. The
// expiry must exceed the worst-case relay cycle or the lease expires
// mid-cycle and another replica starts relaying concurrently.
func WithExpiry(expiry time.Duration) Option {
	return func(lease *Lease) {
		lease.expiry = expiry
	}
}

// Lease is a Redis-backed outbox.Lease using a single-try RedLock mutex.
// Acquire never retries: a busy lease means another replica is relaying,
// and the correct response is skipping the cycle, not waiting.
type Lease struct {
	mutex  *redsync.Mutex
	logger log.Logger
	key    string
	expiry time.Duration
}

var _ outbox.Lease = (*Lease)(nil)

// NewLease creates a relay lease on the given key.
func NewLease(client goredislib.UniversalClient, key string, opts ...Option) (*Lease, error) {
	if nilcheck.Interface(client) {
		return nil, ErrClientRequired
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrLeaseKeyRequired
	}

	lease := &Lease{
		logger: log.NewNop(),
		key:    key,
		expiry: defaultLeaseExpiry,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(lease)
		}
	}

	if nilcheck.Interface(lease.logger) {
		lease.logger = log.NewNop()
	}

	if lease.expiry <= 0 {
		return nil, ErrLeaseExpiryInvalid
	}

	lease.mutex = redsync.New(goredis.NewPool(client)).NewMutex(
		key,
		redsync.WithExpiry(lease.expiry),
		redsync.WithTries(1),
	)

	return lease, nil
}

// Acquire attempts to take the lease without retrying. A false return
// with nil error means another replica holds it.
func (lease *Lease) Acquire(ctx context.Context) (bool, error) {
	if lease == nil || lease.mutex == nil {
		return false, ErrLeaseNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.outbox.lease_acquire")
	defer span.End()

	if err := lease.mutex.TryLockContext(ctx); err != nil {
		if isLeaseContention(err) {
			lease.log(logger, ctx, log.LevelDebug, "relay lease held by another replica")

			return false, nil
		}

		span.RecordError(err)
		lease.log(logger, ctx, log.LevelError, "failed to acquire relay lease", log.Err(err))

		return false, fmt.Errorf("acquiring relay lease %s: %w", lease.key, err)
	}

	lease.log(logger, ctx, log.LevelDebug, "relay lease acquired")

	return true, nil
}

// Renew pushes the lease expiry forward by the configured expiry. Call it
// from long relay cycles that may outlive the initial window. Renewing an
// expired or unheld lease returns ErrLeaseNotHeld.
func (lease *Lease) Renew(ctx context.Context) error {
	if lease == nil || lease.mutex == nil {
		return ErrLeaseNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.outbox.lease_renew")
	defer span.End()

	ok, err := lease.mutex.ExtendContext(ctx)
	if ok {
		lease.log(logger, ctx, log.LevelDebug, "relay lease renewed")

		return nil
	}

	if err == nil || isLeaseNotHeld(err) {
		lease.log(logger, ctx, log.LevelWarn, "relay lease expired before renewal")

		return ErrLeaseNotHeld
	}

	span.RecordError(err)
	lease.log(logger, ctx, log.LevelError, "failed to renew relay lease", log.Err(err))

	return fmt.Errorf("renewing relay lease %s: %w", lease.key, err)
}

// Release returns the lease. Releasing an expired or unheld lease
// returns ErrLeaseNotHeld.
func (lease *Lease) Release(ctx context.Context) error {
	if lease == nil || lease.mutex == nil {
		return ErrLeaseNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.outbox.lease_release")
	defer span.End()

	ok, err := lease.mutex.UnlockContext(ctx)
	if ok {
		lease.log(logger, ctx, log.LevelDebug, "relay lease released")

		return nil
	}

	if err == nil || isLeaseNotHeld(err) {
		lease.log(logger, ctx, log.LevelWarn, "relay lease was not held or already expired")

		return ErrLeaseNotHeld
	}

	span.RecordError(err)
	lease.log(logger, ctx, log.LevelError, "failed to release relay lease", log.Err(err))

	return fmt.Errorf("releasing relay lease %s: %w", lease.key, err)
}

func isLeaseContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}

	var taken *redsync.ErrTaken
	if errors.As(err, &taken) {
		return true
	}

	return strings.Contains(err.Error(), "lock already taken")
}

func isLeaseNotHeld(err error) bool {
	if errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return true
	}

	var taken *redsync.ErrTaken

	return errors.As(err, &taken)
}

func (lease *Lease) log(logger log.Logger, ctx context.Context, level log.Level, msg string, fields ...log.Field) {
	if nilcheck.Interface(logger) {
		logger = lease.logger
	}

	if nilcheck.Interface(logger) {
		return
	}

	fields = append(fields, log.String("lease_key", lease.key))
	logger.Log(ctx, level, msg, fields...)
}
