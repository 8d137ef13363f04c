package protocol

import (
	"fmt"
	"strings"
)

// TransportKind identifies one concrete communication mechanism.
type TransportKind string

const (
	// TransportRPC is a synchronous request/response call.
	TransportRPC TransportKind = "rpc"
	// TransportStream is a long-lived bidirectional stream.
	TransportStream TransportKind = "stream"
	// TransportBus is an asynchronous message bus used in request/reply mode.
	TransportBus TransportKind = "bus"
	// TransportTool is a tool-invocation channel.
	TransportTool TransportKind = "tool"
)

// AllKinds returns every transport kind in identifier order.
func AllKinds() []TransportKind {
	return []TransportKind{TransportBus, TransportRPC, TransportStream, TransportTool}
}

// ParseKind converts a string into a TransportKind.
func ParseKind(s string) (TransportKind, error) {
	k := TransportKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown transport kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k TransportKind) Valid() bool {
	switch k {
	case TransportRPC, TransportStream, TransportBus, TransportTool:
		return true
	}
	return false
}

func (k TransportKind) String() string {
	return string(k)
}

// ReliabilityLevel orders the delivery guarantees a caller can ask for.
type ReliabilityLevel int

const (
	ReliabilityBestEffort ReliabilityLevel = iota
	ReliabilityNormal
	ReliabilityStrict
)

// String returns the configuration spelling of the level
func (l ReliabilityLevel) String() string {
	switch l {
	case ReliabilityBestEffort:
		return "best_effort"
	case ReliabilityNormal:
		return "normal"
	case ReliabilityStrict:
		return "strict"
	default:
		return fmt.Sprintf("reliability(%d)", int(l))
	}
}

// ParseReliability converts a configuration string into a ReliabilityLevel.
func ParseReliability(s string) (ReliabilityLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "best_effort", "best-effort", "besteffort":
		return ReliabilityBestEffort, nil
	case "", "normal":
		return ReliabilityNormal, nil
	case "strict":
		return ReliabilityStrict, nil
	}
	return ReliabilityNormal, fmt.Errorf("unknown reliability level %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (l ReliabilityLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *ReliabilityLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseReliability(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// KindTraits describes what a transport kind was designed for. Traits are static: they do not
// depend on the health of any particular service.
type KindTraits struct {
	Reliability ReliabilityLevel
	Realtime    bool
}

// Traits returns the designed traits of a transport kind.
func Traits(k TransportKind) KindTraits {
	switch k {
	case TransportRPC:
		return KindTraits{Reliability: ReliabilityNormal, Realtime: false}
	case TransportStream:
		return KindTraits{Reliability: ReliabilityNormal, Realtime: true}
	case TransportBus:
		return KindTraits{Reliability: ReliabilityStrict, Realtime: false}
	case TransportTool:
		return KindTraits{Reliability: ReliabilityBestEffort, Realtime: false}
	}
	return KindTraits{}
}
