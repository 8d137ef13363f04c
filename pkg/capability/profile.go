// Package capability tracks which transports a target service supports and how healthy each one
// currently is. A Profile is owned by exactly one dispatcher; every read-modify-write goes through
// the Profile's mutex so concurrent outcome reports never lose updates.
package capability

import (
	"sort"
	"sync"
	"time"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// CircuitState is the circuit-breaker state of one transport
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// latencyAlpha weights the newest sample in the latency moving average
const latencyAlpha = 0.3

// BreakerSettings configures the circuit breaker applied to every transport of a Profile
type BreakerSettings struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// DefaultBreakerSettings returns the settings used when none are given
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// TransportHealth is the per-transport entry of a Profile
type TransportHealth struct {
	Kind                 protocol.TransportKind `json:"kind"`
	Supported            bool                   `json:"supported"`
	Version              string                 `json:"version,omitempty"`
	State                CircuitState           `json:"circuit_state"`
	RecentLatency        time.Duration          `json:"recent_latency"`
	HasLatency           bool                   `json:"has_latency"`
	ConsecutiveFailures  int                    `json:"consecutive_failures"`
	ConsecutiveSuccesses int                    `json:"consecutive_successes"`
	OpenedAt             time.Time              `json:"circuit_opened_at,omitempty"`
	ProbeInFlight        bool                   `json:"probe_in_flight"`
	// Openings counts how often the circuit has opened
	Openings             int                    `json:"openings"`
}

// Transition records a circuit state change
type Transition struct {
	Kind protocol.TransportKind
	From CircuitState
	To   CircuitState
	At   time.Time
}

// Snapshot is an immutable copy of a Profile
type Snapshot struct {
	Service    string                                     `json:"service"`
	Transports map[protocol.TransportKind]TransportHealth `json:"transports"`
}

// Get returns the health entry for kind. Unknown kinds report as unsupported and closed.
func (s Snapshot) Get(kind protocol.TransportKind) TransportHealth {
	if h, ok := s.Transports[kind]; ok {
		return h
	}
	return TransportHealth{Kind: kind, State: StateClosed}
}

// Kinds returns the kinds present in the snapshot in identifier order
func (s Snapshot) Kinds() []protocol.TransportKind {
	kinds := make([]protocol.TransportKind, 0, len(s.Transports))
	for k := range s.Transports {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Available reports whether any supported transport is not open
func (s Snapshot) Available() bool {
	for _, h := range s.Transports {
		if h.Supported && h.State != StateOpen {
			return true
		}
	}
	return false
}

// ProfileOption configures a Profile
type ProfileOption func(*Profile)

// WithTransitionHook registers fn to receive every state change. fn runs after the Profile's lock
// is released and must not block.
func WithTransitionHook(fn func(Transition)) ProfileOption {
	return func(p *Profile) {
		p.hooks = append(p.hooks, fn)
	}
}

// Profile is the live capability and health record for one target service
type Profile struct {
	mu         sync.Mutex
	service    string
	settings   BreakerSettings
	transports map[protocol.TransportKind]*TransportHealth
	hooks      []func(Transition)
}

// NewProfile creates an empty Profile. No transport is supported until declared.
func NewProfile(service string, settings BreakerSettings, opts ...ProfileOption) *Profile {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultBreakerSettings().FailureThreshold
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = DefaultBreakerSettings().SuccessThreshold
	}
	p := &Profile{
		service:    service,
		settings:   settings,
		transports: make(map[protocol.TransportKind]*TransportHealth),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Service returns the name of the target service
func (p *Profile) Service() string {
	return p.service
}

// Settings returns the breaker settings
func (p *Profile) Settings() BreakerSettings {
	return p.settings
}

func (p *Profile) entry(kind protocol.TransportKind) *TransportHealth {
	h, ok := p.transports[kind]
	if !ok {
		h = &TransportHealth{Kind: kind, State: StateClosed}
		p.transports[kind] = h
	}
	return h
}

func (p *Profile) emit(transitions []Transition) {
	for _, t := range transitions {
		for _, hook := range p.hooks {
			hook(t)
		}
	}
}

// transition must be called with p.mu held
func (p *Profile) transition(h *TransportHealth, to CircuitState, now time.Time) Transition {
	t := Transition{Kind: h.Kind, From: h.State, To: to, At: now}
	h.State = to
	switch to {
	case StateOpen:
		h.OpenedAt = now
		h.Openings++
		h.ProbeInFlight = false
	case StateClosed:
		h.OpenedAt = time.Time{}
		h.ConsecutiveFailures = 0
	case StateHalfOpen:
		h.ConsecutiveSuccesses = 0
	}
	return t
}

// SetSupported marks kind as supported or not. Circuit state is kept so a transport that flaps in
// and out of the declaration does not lose its failure history.
func (p *Profile) SetSupported(kind protocol.TransportKind, supported bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(kind).Supported = supported
}

// ApplyDeclaration replaces the supported set with the one in d. Kinds d does not mention become
// unsupported.
func (p *Profile) ApplyDeclaration(d Declaration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for kind, h := range p.transports {
		if _, ok := d.Transports[kind]; !ok {
			h.Supported = false
		}
	}
	for kind, td := range d.Transports {
		h := p.entry(kind)
		h.Supported = td.Supported
		h.Version = td.Version
		if !h.HasLatency && td.LatencyHintMs > 0 {
			h.RecentLatency = time.Duration(td.LatencyHintMs) * time.Millisecond
			h.HasLatency = true
		}
	}
}

// Advance moves every open transport whose cooldown has elapsed to half_open
func (p *Profile) Advance(now time.Time) []Transition {
	p.mu.Lock()
	var transitions []Transition
	for _, kind := range protocol.AllKinds() {
		h, ok := p.transports[kind]
		if !ok || h.State != StateOpen {
			continue
		}
		if now.Sub(h.OpenedAt) >= p.settings.Cooldown {
			transitions = append(transitions, p.transition(h, StateHalfOpen, now))
		}
	}
	p.mu.Unlock()

	p.emit(transitions)
	return transitions
}

// Permit is the admission granted by Admit or ForceProbe. Outcomes are recorded against the
// permit so that attempts admitted before the circuit last opened cannot act as its probe.
type Permit struct {
	Kind protocol.TransportKind
	// Probe is set for the single attempt a half_open circuit lets through
	Probe bool
	// epoch is the number of times the circuit had opened when the permit was granted
	epoch int
}

// current reports whether the permit was granted in the circuit's present open epoch. Must be
// called with p.mu held.
func (h *TransportHealth) current(permit Permit) bool {
	return permit.epoch == h.Openings
}

// Admit asks permission to start an attempt on kind. Closed circuits always admit. A half_open
// circuit admits exactly one probe at a time; an open circuit whose cooldown has elapsed moves to
// half_open and admits the caller as its probe.
func (p *Profile) Admit(kind protocol.TransportKind, now time.Time) (Permit, error) {
	p.mu.Lock()
	h, ok := p.transports[kind]
	if !ok || !h.Supported {
		p.mu.Unlock()
		return Permit{}, dispatcherrors.Unsupported(kind, "transport not declared by "+p.service)
	}

	permit := Permit{Kind: kind, epoch: h.Openings}
	var transitions []Transition
	var err error
	switch h.State {
	case StateClosed:
	case StateOpen:
		if now.Sub(h.OpenedAt) < p.settings.Cooldown {
			err = dispatcherrors.CircuitOpen(kind, h.OpenedAt)
			break
		}
		transitions = append(transitions, p.transition(h, StateHalfOpen, now))
		h.ProbeInFlight = true
		permit.Probe = true
	case StateHalfOpen:
		if h.ProbeInFlight {
			err = dispatcherrors.CircuitOpen(kind, h.OpenedAt).WithDetail("probe already in flight")
			break
		}
		h.ProbeInFlight = true
		permit.Probe = true
	}
	p.mu.Unlock()

	p.emit(transitions)
	if err != nil {
		return Permit{}, err
	}
	return permit, nil
}

// ForceProbe admits one probe on an open transport even though its cooldown has not elapsed. It
// is used for the last-resort attempt when every circuit is open.
func (p *Profile) ForceProbe(kind protocol.TransportKind, now time.Time) (Permit, error) {
	p.mu.Lock()
	h, ok := p.transports[kind]
	if !ok || !h.Supported {
		p.mu.Unlock()
		return Permit{}, dispatcherrors.Unsupported(kind, "transport not declared by "+p.service)
	}
	if h.ProbeInFlight {
		p.mu.Unlock()
		return Permit{}, dispatcherrors.CircuitOpen(kind, h.OpenedAt).WithDetail("probe already in flight")
	}

	permit := Permit{Kind: kind, epoch: h.Openings}
	var transitions []Transition
	if h.State == StateOpen {
		transitions = append(transitions, p.transition(h, StateHalfOpen, now))
	}
	if h.State == StateHalfOpen {
		h.ProbeInFlight = true
		permit.Probe = true
	}
	p.mu.Unlock()

	p.emit(transitions)
	return permit, nil
}

// Release returns a probe permit without recording an outcome, for attempts the caller cancelled
// or that ended without saying anything about the transport's health
func (p *Profile) Release(permit Permit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.transports[permit.Kind]; ok && permit.Probe && h.current(permit) {
		h.ProbeInFlight = false
	}
}

// observeLatency must be called with p.mu held
func (h *TransportHealth) observeLatency(latency time.Duration) {
	if h.HasLatency {
		h.RecentLatency = time.Duration(latencyAlpha*float64(latency) + (1-latencyAlpha)*float64(h.RecentLatency))
	} else {
		h.RecentLatency = latency
		h.HasLatency = true
	}
}

// RecordSuccess records a successful attempt and its latency. A success from an attempt admitted
// before the circuit last opened only feeds the latency average.
func (p *Profile) RecordSuccess(permit Permit, latency time.Duration, now time.Time) []Transition {
	if permit.Kind == "" {
		return nil
	}
	p.mu.Lock()
	h := p.entry(permit.Kind)
	h.observeLatency(latency)
	if !h.current(permit) {
		p.mu.Unlock()
		return nil
	}

	if permit.Probe {
		h.ProbeInFlight = false
	}
	h.ConsecutiveSuccesses++
	h.ConsecutiveFailures = 0

	var transitions []Transition
	if h.State == StateHalfOpen && permit.Probe && h.ConsecutiveSuccesses >= p.settings.SuccessThreshold {
		transitions = append(transitions, p.transition(h, StateClosed, now))
	}
	p.mu.Unlock()

	p.emit(transitions)
	return transitions
}

// RecordFailure records a failed attempt. A failure from an attempt admitted before the circuit
// last opened is ignored: the circuit has already reacted to that period.
func (p *Profile) RecordFailure(permit Permit, now time.Time) []Transition {
	if permit.Kind == "" {
		return nil
	}
	p.mu.Lock()
	h := p.entry(permit.Kind)
	if !h.current(permit) {
		p.mu.Unlock()
		return nil
	}

	if permit.Probe {
		h.ProbeInFlight = false
	}
	h.ConsecutiveFailures++
	h.ConsecutiveSuccesses = 0

	var transitions []Transition
	switch h.State {
	case StateClosed:
		if h.ConsecutiveFailures >= p.settings.FailureThreshold {
			transitions = append(transitions, p.transition(h, StateOpen, now))
		}
	case StateHalfOpen:
		if permit.Probe {
			transitions = append(transitions, p.transition(h, StateOpen, now))
		}
	}
	p.mu.Unlock()

	p.emit(transitions)
	return transitions
}

// State returns the circuit state of kind
func (p *Profile) State(kind protocol.TransportKind) CircuitState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.transports[kind]; ok {
		return h.State
	}
	return StateClosed
}

// Snapshot returns a copy of the profile
func (p *Profile) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		Service:    p.service,
		Transports: make(map[protocol.TransportKind]TransportHealth, len(p.transports)),
	}
	for kind, h := range p.transports {
		s.Transports[kind] = *h
	}
	return s
}
