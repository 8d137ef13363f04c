package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/observability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

func newTestProfile(failureThreshold int, kinds ...protocol.TransportKind) *capability.Profile {
	profile := capability.NewProfile("agent", capability.BreakerSettings{
		FailureThreshold: failureThreshold,
		SuccessThreshold: 1,
		Cooldown:         time.Minute,
	})
	for _, kind := range kinds {
		profile.SetSupported(kind, true)
	}
	return profile
}

func newTestOperation(t *testing.T, name string, payload interface{}) protocol.Operation {
	t.Helper()
	op, err := protocol.NewOperation(name, payload)
	require.NoError(t, err)
	return op
}

func fastRetries(maxRetries int) ReliabilityConfig {
	return ReliabilityConfig{
		MaxRetries:         maxRetries,
		InitialRetryDelay:  time.Millisecond,
		MaxRetryDelay:      5 * time.Millisecond,
		RetryBackoffFactor: 2,
		AttemptTimeout:     time.Second,
	}
}

// recordingObserver keeps attempt and retry events
type recordingObserver struct {
	observability.NopObserver

	mu       sync.Mutex
	attempts []observability.AttemptEvent
	retries  []observability.RetryEvent
}

func (o *recordingObserver) OnAttempt(e observability.AttemptEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, e)
}

func (o *recordingObserver) OnRetry(e observability.RetryEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, e)
}

func (o *recordingObserver) Retries() []observability.RetryEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observability.RetryEvent(nil), o.retries...)
}

func (o *recordingObserver) Attempts() []observability.AttemptEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observability.AttemptEvent(nil), o.attempts...)
}
