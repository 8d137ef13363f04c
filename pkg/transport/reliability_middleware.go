package transport

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/json"
	"math"
	"math/big"
	"time"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/observability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// ReliabilityConfig holds the retry policy of one transport
type ReliabilityConfig struct {
	// MaxRetries bounds retries after timeouts and connection failures. The refresh retry that
	// follows an auth failure is not counted.
	MaxRetries         int
	InitialRetryDelay  time.Duration
	MaxRetryDelay      time.Duration
	RetryBackoffFactor float64
	// AttemptTimeout bounds each attempt, zero for none
	AttemptTimeout time.Duration
}

// DefaultReliabilityConfig returns the retry policy used when none is configured
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		MaxRetries:         3,
		InitialRetryDelay:  100 * time.Millisecond,
		MaxRetryDelay:      5 * time.Second,
		RetryBackoffFactor: 2.0,
		AttemptTimeout:     10 * time.Second,
	}
}

// ReliabilityOption configures a ReliabilityMiddleware
type ReliabilityOption func(*ReliabilityMiddleware)

// WithCredentials makes every attempt carry a credential from coordinator. An auth failure
// invalidates the credential used and earns one extra attempt with a fresh one.
func WithCredentials(coordinator *auth.Coordinator) ReliabilityOption {
	return func(rm *ReliabilityMiddleware) {
		rm.credentials = coordinator
	}
}

// WithObserver reports attempts and retries to observer
func WithObserver(observer observability.Observer) ReliabilityOption {
	return func(rm *ReliabilityMiddleware) {
		if observer != nil {
			rm.observer = observer
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) ReliabilityOption {
	return func(rm *ReliabilityMiddleware) {
		if logger != nil {
			rm.logger = logger
		}
	}
}

// WithClock overrides the time source used for circuit bookkeeping
func WithClock(now func() time.Time) ReliabilityOption {
	return func(rm *ReliabilityMiddleware) {
		rm.now = now
	}
}

// ReliabilityMiddleware adds per-attempt timeouts, retry with backoff, credential refresh on auth
// failure and circuit-breaker bookkeeping to an adapter. Circuit state lives in the shared
// capability profile, so every wrapper of the same dispatcher sees the same health.
type ReliabilityMiddleware struct {
	config      ReliabilityConfig
	profile     *capability.Profile
	credentials *auth.Coordinator
	observer    observability.Observer
	logger      logging.Logger
	now         func() time.Time
}

// NewReliabilityMiddleware creates a new reliability middleware
func NewReliabilityMiddleware(config ReliabilityConfig, profile *capability.Profile, opts ...ReliabilityOption) *ReliabilityMiddleware {
	if config.RetryBackoffFactor < 1 {
		config.RetryBackoffFactor = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	rm := &ReliabilityMiddleware{
		config:   config,
		profile:  profile,
		observer: observability.NopObserver{},
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(rm)
	}
	rm.logger = rm.logger.WithFields(logging.String("component", "reliability"))
	return rm
}

// Wrap implements the Middleware interface
func (rm *ReliabilityMiddleware) Wrap(adapter Adapter) Adapter {
	return &reliabilityAdapter{
		middlewareAdapter: middlewareAdapter{next: adapter},
		middleware:        rm,
	}
}

// reliabilityAdapter wraps an adapter with reliability features
type reliabilityAdapter struct {
	middlewareAdapter
	middleware *ReliabilityMiddleware
}

// Execute runs attempts until one succeeds, the failure is fatal for this transport, the retry
// budget is spent or the caller gives up.
func (ra *reliabilityAdapter) Execute(ctx context.Context, op protocol.Operation) (json.RawMessage, error) {
	rm := ra.middleware
	kind := ra.Kind()
	logger := rm.logger.WithFields(
		logging.String("transport", kind.String()),
		logging.String("operation_id", op.ID()),
	)

	var (
		lastErr   error
		retries   int
		number    int
		refreshed bool
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, dispatcherrors.OperationCancelled(op.Name(), err)
		}

		var (
			permit   capability.Permit
			admitErr error
		)
		if number == 0 && IsLastResort(ctx) {
			permit, admitErr = rm.profile.ForceProbe(kind, rm.now())
		} else {
			permit, admitErr = rm.profile.Admit(kind, rm.now())
		}
		if admitErr != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, admitErr
		}
		probe := permit.Probe

		var cred *auth.Credential
		if rm.credentials != nil {
			var err error
			cred, err = rm.credentials.Acquire(ctx)
			if err != nil {
				rm.profile.Release(permit)
				if ctx.Err() != nil {
					return nil, dispatcherrors.OperationCancelled(op.Name(), ctx.Err())
				}
				return nil, err
			}
		}

		number++
		result, elapsed, err := ra.attempt(ctx, op, number, cred)
		if err == nil {
			rm.profile.RecordSuccess(permit, elapsed, rm.now())
			rm.observer.OnAttempt(observability.AttemptEvent{
				OperationID: op.ID(),
				Operation:   op.Name(),
				Transport:   kind,
				Attempt:     number,
				Probe:       probe,
				Duration:    elapsed,
			})
			return result, nil
		}

		if ctx.Err() != nil {
			rm.profile.Release(permit)
			rm.observer.OnAttempt(observability.AttemptEvent{
				OperationID: op.ID(),
				Operation:   op.Name(),
				Transport:   kind,
				Attempt:     number,
				Probe:       probe,
				Duration:    elapsed,
				Err:         err,
				Failure:     dispatcherrors.FailureCancelled,
			})
			return nil, dispatcherrors.OperationCancelled(op.Name(), ctx.Err())
		}

		failure := dispatcherrors.Classify(err)
		if _, classified := dispatcherrors.AsDispatchError(err); !classified || failure == dispatcherrors.FailureCancelled {
			// the caller is still waiting, so an adapter-side cancellation is a lost connection
			err = dispatcherrors.ConnectionFailure(kind, "", err)
			failure = dispatcherrors.FailureConnection
		}
		lastErr = err

		rm.observer.OnAttempt(observability.AttemptEvent{
			OperationID: op.ID(),
			Operation:   op.Name(),
			Transport:   kind,
			Attempt:     number,
			Probe:       probe,
			Duration:    elapsed,
			Err:         err,
			Failure:     failure,
		})

		switch {
		case failure == dispatcherrors.FailureAuth:
			rm.profile.Release(permit)
			if rm.credentials == nil || refreshed {
				logger.Debug("auth failure after refresh", logging.ErrorField(err))
				return nil, err
			}
			refreshed = true
			rm.credentials.Invalidate(cred)
			rm.observer.OnRetry(observability.RetryEvent{
				OperationID:       op.ID(),
				Operation:         op.Name(),
				Transport:         kind,
				Attempt:           number + 1,
				Reason:            failure,
				CredentialRefresh: true,
			})

		case failure.Retryable():
			rm.profile.RecordFailure(permit, rm.now())
			if retries >= rm.config.MaxRetries {
				logger.Debug("retry budget spent",
					logging.Int("retries", retries),
					logging.ErrorField(err))
				return nil, err
			}
			retries++
			delay := ra.calculateBackoff(retries)
			rm.observer.OnRetry(observability.RetryEvent{
				OperationID: op.ID(),
				Operation:   op.Name(),
				Transport:   kind,
				Attempt:     number + 1,
				Delay:       delay,
				Reason:      failure,
			})

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, dispatcherrors.OperationCancelled(op.Name(), ctx.Err())
			}

		default:
			// rejected or unsupported: no retry on this transport
			rm.profile.Release(permit)
			return nil, err
		}
	}
}

// attempt runs one Execute call under its own timeout
func (ra *reliabilityAdapter) attempt(ctx context.Context, op protocol.Operation, number int, cred *auth.Credential) (json.RawMessage, time.Duration, error) {
	rm := ra.middleware
	timeout := rm.config.AttemptTimeout

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	attemptCtx = ContextWithAttempt(attemptCtx, AttemptInfo{Number: number, Timeout: timeout})
	if cred != nil {
		attemptCtx = auth.ContextWithCredential(attemptCtx, cred)
	}
	countAttempt(ctx)

	start := rm.now()
	result, err := ra.next.Execute(attemptCtx, op)
	elapsed := rm.now().Sub(start)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		if dispatcherrors.Classify(err) != dispatcherrors.FailureTimeout {
			err = dispatcherrors.Timeout(ra.Kind(), timeout, err)
		}
	}
	return result, elapsed, err
}

// secureRandFloat64 generates a cryptographically secure random float64 in [0, 1)
func secureRandFloat64() (float64, error) {
	// Generate a random integer in [0, 2^53)
	max := big.NewInt(1 << 53)
	n, err := cryptorand.Int(cryptorand.Reader, max)
	if err != nil {
		return 0, err
	}
	// Convert to float64 in [0, 1)
	return float64(n.Int64()) / float64(1<<53), nil
}

// calculateBackoff returns the delay before retry number retry (1-based): the capped exponential
// delay plus jitter in [0, delay)
func (ra *reliabilityAdapter) calculateBackoff(retry int) time.Duration {
	config := ra.middleware.config
	backoff := float64(config.InitialRetryDelay) * math.Pow(config.RetryBackoffFactor, float64(retry-1))

	if backoff > float64(config.MaxRetryDelay) {
		backoff = float64(config.MaxRetryDelay)
	}

	if randFloat, err := secureRandFloat64(); err == nil {
		backoff += backoff * randFloat
	}

	return time.Duration(backoff)
}
