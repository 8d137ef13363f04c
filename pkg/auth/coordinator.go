package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
)

// State is the lifecycle state of the coordinated credential
type State string

const (
	StateNoCredential State = "no_credential"
	StateRefreshing   State = "refreshing"
	StateValid        State = "valid"
	StateExpired      State = "expired"
	StateClosed       State = "closed"
)

const refreshKey = "credential"

// ErrCoordinatorClosed is returned by Acquire after Close
var ErrCoordinatorClosed = fmt.Errorf("credential coordinator closed")

// RefreshEvent describes the outcome of one refresh
type RefreshEvent struct {
	Success  bool
	Err      error
	Duration time.Duration
	At       time.Time
	// Reused is set when the refresh failed but the previous credential was kept
	Reused bool
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithRefreshSkew sets how long before expiry a credential is refreshed proactively
func WithRefreshSkew(skew time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.skew = skew
	}
}

// WithRefreshTimeout bounds each refresh call independently of the callers waiting on it
func WithRefreshTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.refreshTimeout = timeout
	}
}

// WithInitialCredential seeds the coordinator with an already obtained credential
func WithInitialCredential(cred *Credential) CoordinatorOption {
	return func(c *Coordinator) {
		if cred != nil {
			c.current.Store(cred)
			c.obtained.Store(true)
		}
	}
}

// WithRefreshHook registers fn to receive every refresh outcome. fn must not block.
func WithRefreshHook(fn func(RefreshEvent)) CoordinatorOption {
	return func(c *Coordinator) {
		c.hooks = append(c.hooks, fn)
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// Coordinator shares one credential among all adapters of a dispatcher. Concurrent callers that
// need a refresh attach to the single in-flight refresh instead of starting their own.
type Coordinator struct {
	source         TokenSource
	skew           time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	hooks          []func(RefreshEvent)

	group     singleflight.Group
	current   atomic.Pointer[Credential]
	obtained  atomic.Bool
	inFlight  atomic.Bool
	refreshes atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewCoordinator creates a coordinator over source
func NewCoordinator(source TokenSource, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		source:         source,
		skew:           30 * time.Second,
		refreshTimeout: 10 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Coordinator) fresh(cred *Credential) bool {
	return cred != nil && !cred.ExpiringWithin(c.skew, c.now())
}

// Acquire returns a usable credential. A valid credential outside the skew window is returned
// without blocking. Otherwise the caller attaches to the single in-flight refresh, starting it if
// none is running. A caller whose ctx ends stops waiting; the refresh continues for the others.
func (c *Coordinator) Acquire(ctx context.Context) (*Credential, error) {
	if c.isClosed() {
		return nil, dispatcherrors.CredentialUnavailable(ErrCoordinatorClosed)
	}
	if cred := c.current.Load(); c.fresh(cred) {
		return cred, nil
	}

	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Credential), nil
	case <-ctx.Done():
		return nil, dispatcherrors.OperationCancelled("credential acquire", ctx.Err())
	}
}

// refresh runs inside the single flight
func (c *Coordinator) refresh(ctx context.Context) (*Credential, error) {
	// a refresh that completed between the caller's check and this flight already did the work
	if cred := c.current.Load(); c.fresh(cred) {
		return cred, nil
	}

	c.inFlight.Store(true)
	defer c.inFlight.Store(false)
	c.refreshes.Add(1)

	if c.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.refreshTimeout)
		defer cancel()
	}

	start := c.now()
	cred, err := c.source.Token(ctx)
	if err == nil && (cred == nil || cred.Value == "") {
		err = fmt.Errorf("token source returned an empty credential")
	}
	event := RefreshEvent{Duration: c.now().Sub(start), At: c.now()}

	if err != nil {
		event.Err = err
		// keep the last known credential while it is still valid, even inside the skew window
		prior := c.current.Load()
		if prior != nil && !prior.Expired(c.now()) {
			event.Reused = true
			c.emit(event)
			return prior, nil
		}
		c.emit(event)
		if prior != nil {
			return nil, dispatcherrors.CredentialUnavailable(err).WithDetail("last credential expired at " + prior.ExpiresAt.Format(time.RFC3339))
		}
		return nil, dispatcherrors.CredentialUnavailable(err)
	}

	c.current.Store(cred)
	c.obtained.Store(true)
	event.Success = true
	c.emit(event)
	return cred, nil
}

func (c *Coordinator) emit(event RefreshEvent) {
	for _, hook := range c.hooks {
		hook(event)
	}
}

// Invalidate discards used if it is still the current credential. It returns false when a
// concurrent refresh already replaced it, in which case the replacement is kept.
func (c *Coordinator) Invalidate(used *Credential) bool {
	if used == nil {
		return false
	}
	return c.current.CompareAndSwap(used, nil)
}

// Current returns the credential currently held, which may be nil or expired
func (c *Coordinator) Current() *Credential {
	return c.current.Load()
}

// Refreshes returns how many refresh calls reached the token source
func (c *Coordinator) Refreshes() int64 {
	return c.refreshes.Load()
}

// State reports the lifecycle state
func (c *Coordinator) State() State {
	if c.isClosed() {
		return StateClosed
	}
	if c.inFlight.Load() {
		return StateRefreshing
	}
	cred := c.current.Load()
	switch {
	case cred == nil && !c.obtained.Load():
		return StateNoCredential
	case cred == nil, cred.Expired(c.now()):
		return StateExpired
	default:
		return StateValid
	}
}

// Close makes every later Acquire fail. A refresh already in flight completes for its waiters.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
