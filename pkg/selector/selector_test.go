package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

func health(kind protocol.TransportKind, state capability.CircuitState, latency time.Duration) capability.TransportHealth {
	return capability.TransportHealth{
		Kind:          kind,
		Supported:     true,
		State:         state,
		RecentLatency: latency,
		HasLatency:    latency > 0,
	}
}

func snapshot(entries ...capability.TransportHealth) capability.Snapshot {
	s := capability.Snapshot{Service: "test", Transports: map[protocol.TransportKind]capability.TransportHealth{}}
	for _, e := range entries {
		s.Transports[e.Kind] = e
	}
	return s
}

func operation(t *testing.T, opts ...protocol.OperationOption) protocol.Operation {
	t.Helper()
	op, err := protocol.NewOperation("tasks.create", map[string]string{"title": "x"}, opts...)
	require.NoError(t, err)
	return op
}

func defaultSelector() *Selector {
	return New(protocol.TransportRPC, protocol.TransportStream, protocol.TransportBus, protocol.TransportTool)
}

func TestLowLatencyTransportRankedFirst(t *testing.T) {
	snap := snapshot(
		health(protocol.TransportRPC, capability.StateClosed, 50*time.Millisecond),
		health(protocol.TransportStream, capability.StateClosed, 500*time.Millisecond),
	)
	op := operation(t,
		protocol.WithLatency(100*time.Millisecond),
		protocol.WithReliability(protocol.ReliabilityNormal),
		protocol.WithRealtime(false),
	)

	d := defaultSelector().Select(snap, op)

	require.Equal(t, []protocol.TransportKind{protocol.TransportRPC, protocol.TransportStream}, d.Kinds())
	assert.Equal(t, 100.0, d.Candidates[0].Score)
	assert.Equal(t, 60.0, d.Candidates[1].Score)
}

func TestLatencyWithinTwiceScoresHalf(t *testing.T) {
	snap := snapshot(health(protocol.TransportRPC, capability.StateClosed, 150*time.Millisecond))
	d := defaultSelector().Select(snap, operation(t, protocol.WithLatency(100*time.Millisecond)))
	require.Len(t, d.Candidates, 1)
	assert.Equal(t, 40+12.5+20+15, d.Candidates[0].Score)
}

func TestReliabilityAndRealtimeFit(t *testing.T) {
	snap := snapshot(
		health(protocol.TransportBus, capability.StateClosed, 10*time.Millisecond),
		health(protocol.TransportRPC, capability.StateClosed, 10*time.Millisecond),
		health(protocol.TransportStream, capability.StateClosed, 10*time.Millisecond),
		health(protocol.TransportTool, capability.StateClosed, 10*time.Millisecond),
	)

	strict := defaultSelector().Select(snap, operation(t, protocol.WithReliability(protocol.ReliabilityStrict)))
	assert.Equal(t, protocol.TransportBus, strict.Candidates[0].Kind)
	assert.Equal(t, 100.0, strict.Candidates[0].Score)

	realtime := defaultSelector().Select(snap, operation(t, protocol.WithRealtime(true)))
	assert.Equal(t, protocol.TransportStream, realtime.Candidates[0].Kind)

	normal := defaultSelector().Select(snap, operation(t))
	// rpc and bus tie at 100; priority puts rpc first
	assert.Equal(t, []protocol.TransportKind{protocol.TransportRPC, protocol.TransportBus, protocol.TransportStream, protocol.TransportTool}, normal.Kinds())
}

func TestHintHonored(t *testing.T) {
	snap := snapshot(
		health(protocol.TransportRPC, capability.StateClosed, 10*time.Millisecond),
		health(protocol.TransportBus, capability.StateClosed, 10*time.Millisecond),
	)
	d := defaultSelector().Select(snap, operation(t, protocol.WithHint(protocol.TransportBus)))

	require.Len(t, d.Candidates, 1)
	assert.Equal(t, protocol.TransportBus, d.Candidates[0].Kind)
	assert.Equal(t, HintScore, d.Candidates[0].Score)
	assert.Len(t, d.Excluded, 3)
}

func TestHintIgnoredWhenUnusable(t *testing.T) {
	snap := snapshot(
		health(protocol.TransportRPC, capability.StateClosed, 10*time.Millisecond),
		health(protocol.TransportBus, capability.StateOpen, 0),
	)

	d := defaultSelector().Select(snap, operation(t, protocol.WithHint(protocol.TransportBus)))
	assert.Equal(t, []protocol.TransportKind{protocol.TransportRPC}, d.Kinds())
	assert.Contains(t, d.HintIgnored, "circuit open")

	d = defaultSelector().Select(snap, operation(t, protocol.WithHint(protocol.TransportTool)))
	assert.Equal(t, []protocol.TransportKind{protocol.TransportRPC}, d.Kinds())
	assert.Contains(t, d.HintIgnored, "not supported")
}

func TestHalfOpenHintIsProbe(t *testing.T) {
	snap := snapshot(health(protocol.TransportStream, capability.StateHalfOpen, 0))
	d := defaultSelector().Select(snap, operation(t, protocol.WithHint(protocol.TransportStream)))
	require.Len(t, d.Candidates, 1)
	assert.True(t, d.Candidates[0].Probe)
}

func TestOpenExcludedHalfOpenProbedLast(t *testing.T) {
	snap := snapshot(
		health(protocol.TransportRPC, capability.StateOpen, 10*time.Millisecond),
		health(protocol.TransportStream, capability.StateHalfOpen, 10*time.Millisecond),
		health(protocol.TransportTool, capability.StateClosed, 5*time.Second),
	)
	d := defaultSelector().Select(snap, operation(t))

	assert.Equal(t, []protocol.TransportKind{protocol.TransportTool, protocol.TransportStream}, d.Kinds())
	assert.Equal(t, 0.0, d.Candidates[1].Score)
	assert.True(t, d.Candidates[1].Probe)
	assert.Contains(t, d.Excluded, Exclusion{Kind: protocol.TransportRPC, Reason: "circuit open"})
}

func TestAllOpenFailsFast(t *testing.T) {
	snap := snapshot(
		health(protocol.TransportRPC, capability.StateOpen, 0),
		health(protocol.TransportBus, capability.StateOpen, 0),
	)
	d := defaultSelector().Select(snap, operation(t))
	assert.True(t, d.Empty())
	assert.Contains(t, d.Reasons(), "rpc: circuit open")
}

func TestAllOpenCooledDownOffersProbe(t *testing.T) {
	// after cooldown the profile reports the transport as half_open
	snap := snapshot(
		health(protocol.TransportRPC, capability.StateOpen, 0),
		health(protocol.TransportBus, capability.StateHalfOpen, 0),
	)
	d := defaultSelector().Select(snap, operation(t))
	require.Len(t, d.Candidates, 1)
	assert.Equal(t, protocol.TransportBus, d.Candidates[0].Kind)
	assert.Equal(t, 0.0, d.Candidates[0].Score)
}

func TestLastResortProbe(t *testing.T) {
	older := health(protocol.TransportRPC, capability.StateOpen, 0)
	older.OpenedAt = time.Unix(100, 0)
	newer := health(protocol.TransportBus, capability.StateOpen, 0)
	newer.OpenedAt = time.Unix(200, 0)

	s := defaultSelector()
	s.LastResortProbe = true
	d := s.Select(snapshot(older, newer), operation(t))

	require.Len(t, d.Candidates, 1)
	assert.Equal(t, protocol.TransportRPC, d.Candidates[0].Kind)
	assert.True(t, d.Candidates[0].LastResort)
}

func TestNothingSupported(t *testing.T) {
	d := defaultSelector().Select(capability.Snapshot{}, operation(t))
	assert.True(t, d.Empty())
	assert.Len(t, d.Excluded, 4)
}

func TestStaticPriorityWithoutAutoSelection(t *testing.T) {
	snap := snapshot(
		health(protocol.TransportRPC, capability.StateClosed, 5*time.Second),
		health(protocol.TransportBus, capability.StateClosed, time.Millisecond),
	)
	s := New(protocol.TransportRPC, protocol.TransportBus)
	s.AutoSelection = false

	d := s.Select(snap, operation(t, protocol.WithLatency(10*time.Millisecond)))
	assert.Equal(t, []protocol.TransportKind{protocol.TransportRPC, protocol.TransportBus}, d.Kinds())
	assert.Less(t, d.Candidates[0].Score, d.Candidates[1].Score, "scores are still reported")
}

func TestIdentifierBreaksTiesOutsidePriority(t *testing.T) {
	snap := snapshot(
		health(protocol.TransportTool, capability.StateClosed, 0),
		health(protocol.TransportBus, capability.StateClosed, 0),
	)
	s := New()
	d := s.Select(snap, operation(t, protocol.WithReliability(protocol.ReliabilityBestEffort)))
	assert.Equal(t, []protocol.TransportKind{protocol.TransportBus, protocol.TransportTool}, d.Kinds())
}

func TestSelectionIsDeterministic(t *testing.T) {
	snap := snapshot(
		health(protocol.TransportRPC, capability.StateClosed, 80*time.Millisecond),
		health(protocol.TransportStream, capability.StateClosed, 80*time.Millisecond),
		health(protocol.TransportBus, capability.StateHalfOpen, 0),
		health(protocol.TransportTool, capability.StateClosed, 0),
	)
	op := operation(t, protocol.WithLatency(100*time.Millisecond))
	s := defaultSelector()

	first := s.Select(snap, op)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, s.Select(snap, op))
	}
}
