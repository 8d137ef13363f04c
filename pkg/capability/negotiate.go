package capability

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// Rejection explains why a declared transport was dropped during negotiation
type Rejection struct {
	Kind   protocol.TransportKind
	Reason string
}

// Negotiator checks declared transport versions against the semver ranges this client speaks
type Negotiator struct {
	constraints map[protocol.TransportKind]*semver.Constraints
}

// NewNegotiator compiles constraints keyed by transport kind, e.g. {"rpc": ">= 2.0, < 3.0"}
func NewNegotiator(constraints map[string]string) (*Negotiator, error) {
	n := &Negotiator{constraints: make(map[protocol.TransportKind]*semver.Constraints, len(constraints))}
	for name, rng := range constraints {
		kind, err := protocol.ParseKind(name)
		if err != nil {
			return nil, err
		}
		c, err := semver.NewConstraint(rng)
		if err != nil {
			return nil, fmt.Errorf("protocol constraint for %s: %w", kind, err)
		}
		n.constraints[kind] = c
	}
	return n, nil
}

// Negotiate returns a copy of d in which every supported transport whose version does not satisfy
// its constraint is marked unsupported. A constrained transport that declares no version is
// rejected too. Transports without a constraint pass unchanged.
func (n *Negotiator) Negotiate(d Declaration) (Declaration, []Rejection) {
	out := d.Clone()
	if n == nil || len(n.constraints) == 0 {
		return out, nil
	}

	var rejections []Rejection
	for _, kind := range protocol.AllKinds() {
		td, ok := out.Transports[kind]
		c, constrained := n.constraints[kind]
		if !ok || !td.Supported || !constrained {
			continue
		}

		reason := ""
		if td.Version == "" {
			reason = "no version declared"
		} else if v, err := semver.NewVersion(td.Version); err != nil {
			reason = fmt.Sprintf("invalid version %q", td.Version)
		} else if !c.Check(v) {
			reason = fmt.Sprintf("version %s does not satisfy %s", td.Version, c.String())
		}

		if reason != "" {
			td.Supported = false
			out.Transports[kind] = td
			rejections = append(rejections, Rejection{Kind: kind, Reason: reason})
		}
	}
	return out, rejections
}
