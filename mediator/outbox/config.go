package outbox

import (
	"time"

	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultPollInterval         = 2 * time.Second
	defaultBatchSize            = 50
	defaultDeliverMaxAttempts   = 3
	defaultDeliverBackoff       = 200 * time.Millisecond
	defaultListFailureThreshold = 3
	defaultRetryWindow          = 5 * time.Minute
	defaultMaxRelayAttempts     = 10
	defaultProcessingTimeout    = 10 * time.Minute
	defaultMaxFailedPerBatch    = 25
)

// RelayConfig controls relay polling, retry, and metric behavior.
type RelayConfig struct {
	// PollInterval is the periodic interval between relay cycles.
	PollInterval time.Duration
	// BatchSize is the max number of entries processed per cycle.
	BatchSize int
	// DeliverMaxAttempts is the max in-cycle delivery attempts for one entry.
	DeliverMaxAttempts int
	// DeliverBackoff is the base backoff between in-cycle delivery retries.
	DeliverBackoff time.Duration
	// ListFailureThreshold emits an error log once repeated list failures reach this count.
	ListFailureThreshold int
	// RetryWindow is the minimum age for failed entries to become retry-eligible.
	RetryWindow time.Duration
	// MaxRelayAttempts is the max total relay attempts before invalidation.
	MaxRelayAttempts int
	// ProcessingTimeout is the age threshold for reclaiming stuck PROCESSING entries.
	ProcessingTimeout time.Duration
	// MaxFailedPerBatch limits how many failed entries are reclaimed in one cycle.
	MaxFailedPerBatch int
	// MeterProvider overrides the default global meter provider when set.
	MeterProvider metric.MeterProvider
}

// DefaultRelayConfig returns the baseline relay configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval:         defaultPollInterval,
		BatchSize:            defaultBatchSize,
		DeliverMaxAttempts:   defaultDeliverMaxAttempts,
		DeliverBackoff:       defaultDeliverBackoff,
		ListFailureThreshold: defaultListFailureThreshold,
		RetryWindow:          defaultRetryWindow,
		MaxRelayAttempts:     defaultMaxRelayAttempts,
		ProcessingTimeout:    defaultProcessingTimeout,
		MaxFailedPerBatch:    defaultMaxFailedPerBatch,
		MeterProvider:        nil,
	}
}

func (cfg *RelayConfig) normalize() {
	defaults := DefaultRelayConfig()

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	if cfg.DeliverMaxAttempts <= 0 {
		cfg.DeliverMaxAttempts = defaults.DeliverMaxAttempts
	}

	if cfg.DeliverBackoff <= 0 {
		cfg.DeliverBackoff = defaults.DeliverBackoff
	}

	if cfg.ListFailureThreshold <= 0 {
		cfg.ListFailureThreshold = defaults.ListFailureThreshold
	}

	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = defaults.RetryWindow
	}

	if cfg.MaxRelayAttempts <= 0 {
		cfg.MaxRelayAttempts = defaults.MaxRelayAttempts
	}

	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = defaults.ProcessingTimeout
	}

	if cfg.MaxFailedPerBatch <= 0 {
		cfg.MaxFailedPerBatch = defaults.MaxFailedPerBatch
	}
}

// RelayOption mutates relay configuration at construction.
type RelayOption func(*Relay)

// WithBatchSize sets the maximum entries processed in one relay cycle.
func WithBatchSize(size int) RelayOption {
	return func(relay *Relay) {
		if size > 0 {
			relay.cfg.BatchSize = size
		}
	}
}

// WithPollInterval sets the relay polling interval.
func WithPollInterval(interval time.Duration) RelayOption {
	return func(relay *Relay) {
		if interval > 0 {
			relay.cfg.PollInterval = interval
		}
	}
}

// WithDeliverMaxAttempts sets max in-cycle delivery attempts per entry.
func WithDeliverMaxAttempts(maxAttempts int) RelayOption {
	return func(relay *Relay) {
		if maxAttempts > 0 {
			relay.cfg.DeliverMaxAttempts = maxAttempts
		}
	}
}

// WithDeliverBackoff sets base backoff for in-cycle delivery retries.
func WithDeliverBackoff(backoff time.Duration) RelayOption {
	return func(relay *Relay) {
		if backoff > 0 {
			relay.cfg.DeliverBackoff = backoff
		}
	}
}

// WithRetryWindow sets the failed-entry cooldown before retry reclamation.
func WithRetryWindow(retryWindow time.Duration) RelayOption {
	return func(relay *Relay) {
		if retryWindow > 0 {
			relay.cfg.RetryWindow = retryWindow
		}
	}
}

// WithMaxRelayAttempts sets max total relay attempts before invalidation.
func WithMaxRelayAttempts(attempts int) RelayOption {
	return func(relay *Relay) {
		if attempts > 0 {
			relay.cfg.MaxRelayAttempts = attempts
		}
	}
}

// WithProcessingTimeout sets the timeout used to reclaim stuck PROCESSING entries.
func WithProcessingTimeout(timeout time.Duration) RelayOption {
	return func(relay *Relay) {
		if timeout > 0 {
			relay.cfg.ProcessingTimeout = timeout
		}
	}
}

// WithListFailureThreshold sets the log threshold for repeated list failures.
func WithListFailureThreshold(threshold int) RelayOption {
	return func(relay *Relay) {
		if threshold > 0 {
			relay.cfg.ListFailureThreshold = threshold
		}
	}
}

// WithMaxFailedPerBatch sets max failed entries reclaimed each cycle.
func WithMaxFailedPerBatch(maxFailed int) RelayOption {
	return func(relay *Relay) {
		if maxFailed > 0 {
			relay.cfg.MaxFailedPerBatch = maxFailed
		}
	}
}

// WithRetryClassifier sets the non-retryable error classifier.
func WithRetryClassifier(classifier RetryClassifier) RelayOption {
	return func(relay *Relay) {
		if nilcheck.Interface(classifier) {
			relay.retryClassifier = nil

			return
		}

		relay.retryClassifier = classifier
	}
}

// WithLease sets a cycle lease taken before each relay cycle. Use it when
// the repository cannot claim entries atomically and multiple replicas poll
// the same store.
func WithLease(lease Lease) RelayOption {
	return func(relay *Relay) {
		if nilcheck.Interface(lease) {
			relay.lease = nil

			return
		}

		relay.lease = lease
	}
}

// WithMeterProvider injects a custom meter provider for relay metrics.
// Passing nil keeps the default global OpenTelemetry meter provider.
func WithMeterProvider(provider metric.MeterProvider) RelayOption {
	return func(relay *Relay) {
		if nilcheck.Interface(provider) {
			relay.cfg.MeterProvider = nil

			return
		}

		relay.cfg.MeterProvider = provider
	}
}
