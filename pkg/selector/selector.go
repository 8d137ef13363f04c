// Package selector ranks the transports of a capability snapshot for one operation. Select is a
// pure function of its inputs: the same snapshot and operation always produce the same decision.
package selector

import (
	"fmt"
	"sort"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// Score weights. A fully fitting transport scores 100, the same as an explicit hint.
const (
	weightCapability  = 40.0
	weightLatency     = 25.0
	weightReliability = 20.0
	weightRealtime    = 15.0

	// HintScore is the score given to a transport chosen by explicit hint
	HintScore = 100.0
)

// Candidate is one transport proposed for an operation
type Candidate struct {
	Kind    protocol.TransportKind `json:"kind"`
	Score   float64                `json:"score"`
	Reasons []string               `json:"reasons,omitempty"`
	// Probe marks a half_open transport offered to test recovery
	Probe bool `json:"probe,omitempty"`
	// LastResort marks an open transport offered because nothing else is available
	LastResort bool `json:"last_resort,omitempty"`
}

// Exclusion records why a transport is not a candidate
type Exclusion struct {
	Kind   protocol.TransportKind `json:"kind"`
	Reason string                 `json:"reason"`
}

// Decision is the ordered outcome of Select
type Decision struct {
	Candidates []Candidate `json:"candidates"`
	Excluded   []Exclusion `json:"excluded,omitempty"`
	// HintIgnored explains why a transport hint was not honored
	HintIgnored string `json:"hint_ignored,omitempty"`
}

// Kinds returns the candidate transports in order
func (d Decision) Kinds() []protocol.TransportKind {
	kinds := make([]protocol.TransportKind, 0, len(d.Candidates))
	for _, c := range d.Candidates {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}

// Empty reports whether no transport can be attempted
func (d Decision) Empty() bool {
	return len(d.Candidates) == 0
}

// Reasons flattens exclusions into human-readable strings
func (d Decision) Reasons() []string {
	reasons := make([]string, 0, len(d.Excluded)+1)
	for _, e := range d.Excluded {
		reasons = append(reasons, fmt.Sprintf("%s: %s", e.Kind, e.Reason))
	}
	if d.HintIgnored != "" {
		reasons = append(reasons, d.HintIgnored)
	}
	return reasons
}

// Selector holds the static selection policy
type Selector struct {
	// Priority breaks score ties; kinds not listed rank after listed ones in identifier order
	Priority []protocol.TransportKind
	// AutoSelection scores candidates; when false candidates follow Priority only
	AutoSelection bool
	// LastResortProbe offers the least-recently-opened transport when every circuit is open
	LastResortProbe bool
}

// New returns a Selector with automatic selection enabled
func New(priority ...protocol.TransportKind) *Selector {
	return &Selector{Priority: priority, AutoSelection: true}
}

func (s *Selector) rank(kind protocol.TransportKind) int {
	for i, k := range s.Priority {
		if k == kind {
			return i
		}
	}
	return len(s.Priority)
}

// before is the static ordering: priority list, then identifier
func (s *Selector) before(a, b protocol.TransportKind) bool {
	ra, rb := s.rank(a), s.rank(b)
	if ra != rb {
		return ra < rb
	}
	return a < b
}

// Select ranks the transports of snap for op
func (s *Selector) Select(snap capability.Snapshot, op protocol.Operation) Decision {
	var d Decision

	if hint := op.Hint(); hint != "" {
		h := snap.Get(hint)
		switch {
		case !hint.Valid():
			d.HintIgnored = fmt.Sprintf("hint %q ignored: unknown transport", hint)
		case !h.Supported:
			d.HintIgnored = fmt.Sprintf("hint %s ignored: not supported", hint)
		case h.State == capability.StateOpen:
			d.HintIgnored = fmt.Sprintf("hint %s ignored: circuit open", hint)
		default:
			d.Candidates = []Candidate{{
				Kind:    hint,
				Score:   HintScore,
				Reasons: []string{"explicit transport hint"},
				Probe:   h.State == capability.StateHalfOpen,
			}}
			for _, kind := range protocol.AllKinds() {
				if kind != hint {
					d.Excluded = append(d.Excluded, Exclusion{Kind: kind, Reason: "excluded by transport hint"})
				}
			}
			return d
		}
	}

	req := op.Requirements()
	var scored, probes []Candidate
	var open []capability.TransportHealth

	for _, kind := range protocol.AllKinds() {
		h := snap.Get(kind)
		switch {
		case !h.Supported:
			d.Excluded = append(d.Excluded, Exclusion{Kind: kind, Reason: "not supported"})
		case h.State == capability.StateOpen:
			d.Excluded = append(d.Excluded, Exclusion{Kind: kind, Reason: "circuit open"})
			open = append(open, h)
		case h.State == capability.StateHalfOpen:
			probes = append(probes, Candidate{Kind: kind, Score: 0, Reasons: []string{"half-open probe"}, Probe: true})
		default:
			scored = append(scored, score(h, req))
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if s.AutoSelection && scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return s.before(scored[i].Kind, scored[j].Kind)
	})
	sort.SliceStable(probes, func(i, j int) bool {
		return s.before(probes[i].Kind, probes[j].Kind)
	})
	d.Candidates = append(scored, probes...)

	if len(d.Candidates) == 0 && len(open) > 0 && s.LastResortProbe {
		sort.SliceStable(open, func(i, j int) bool {
			if !open[i].OpenedAt.Equal(open[j].OpenedAt) {
				return open[i].OpenedAt.Before(open[j].OpenedAt)
			}
			return s.before(open[i].Kind, open[j].Kind)
		})
		d.Candidates = []Candidate{{
			Kind:       open[0].Kind,
			Score:      0,
			Reasons:    []string{"last resort: every circuit is open"},
			Probe:      true,
			LastResort: true,
		}}
	}
	return d
}

// score computes the weighted fit of a closed, supported transport
func score(h capability.TransportHealth, req protocol.Requirements) Candidate {
	traits := protocol.Traits(h.Kind)
	c := Candidate{Kind: h.Kind, Score: weightCapability, Reasons: []string{"capability present"}}

	latencyFit := 1.0
	switch {
	case !h.HasLatency:
		c.Reasons = append(c.Reasons, "no latency samples")
	case h.RecentLatency <= req.ExpectedLatency:
		c.Reasons = append(c.Reasons, fmt.Sprintf("latency %v within %v", h.RecentLatency, req.ExpectedLatency))
	case h.RecentLatency <= 2*req.ExpectedLatency:
		latencyFit = 0.5
		c.Reasons = append(c.Reasons, fmt.Sprintf("latency %v within twice %v", h.RecentLatency, req.ExpectedLatency))
	default:
		latencyFit = 0
		c.Reasons = append(c.Reasons, fmt.Sprintf("latency %v exceeds %v", h.RecentLatency, 2*req.ExpectedLatency))
	}
	c.Score += weightLatency * latencyFit

	if traits.Reliability >= req.Reliability {
		c.Score += weightReliability
		c.Reasons = append(c.Reasons, fmt.Sprintf("reliability %s meets %s", traits.Reliability, req.Reliability))
	} else {
		c.Reasons = append(c.Reasons, fmt.Sprintf("reliability %s below %s", traits.Reliability, req.Reliability))
	}

	if traits.Realtime == req.Realtime {
		c.Score += weightRealtime
		c.Reasons = append(c.Reasons, "realtime fit")
	} else {
		c.Reasons = append(c.Reasons, "realtime mismatch")
	}
	return c
}
