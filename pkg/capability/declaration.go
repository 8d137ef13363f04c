package capability

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// TransportDeclaration is what a service declares about one transport
type TransportDeclaration struct {
	Supported bool   `yaml:"supported" json:"supported"`
	Version   string `yaml:"version,omitempty" json:"version,omitempty"`
	// LatencyHintMs seeds the latency average until real samples arrive
	LatencyHintMs int `yaml:"latency_hint_ms,omitempty" json:"latency_hint_ms,omitempty"`
}

// Declaration lists the transports a target service supports
type Declaration struct {
	Service    string                                          `yaml:"service" json:"service"`
	Transports map[protocol.TransportKind]TransportDeclaration `yaml:"transports" json:"transports"`
}

// Supports reports whether kind is declared and supported
func (d Declaration) Supports(kind protocol.TransportKind) bool {
	return d.Transports[kind].Supported
}

// Clone returns a deep copy
func (d Declaration) Clone() Declaration {
	out := Declaration{Service: d.Service, Transports: make(map[protocol.TransportKind]TransportDeclaration, len(d.Transports))}
	for k, v := range d.Transports {
		out.Transports[k] = v
	}
	return out
}

// Validate rejects unknown transport kinds
func (d Declaration) Validate() error {
	for kind := range d.Transports {
		if !kind.Valid() {
			return fmt.Errorf("declaration for %q: unknown transport kind %q", d.Service, kind)
		}
	}
	return nil
}

// DeclarationOf builds a declaration marking every kind in kinds as supported
func DeclarationOf(service string, kinds ...protocol.TransportKind) Declaration {
	d := Declaration{Service: service, Transports: make(map[protocol.TransportKind]TransportDeclaration, len(kinds))}
	for _, k := range kinds {
		d.Transports[k] = TransportDeclaration{Supported: true}
	}
	return d
}

// ParseDeclaration decodes a YAML (or JSON) declaration document
func ParseDeclaration(data []byte) (Declaration, error) {
	var d Declaration
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Declaration{}, fmt.Errorf("parse capability declaration: %w", err)
	}
	if d.Transports == nil {
		d.Transports = make(map[protocol.TransportKind]TransportDeclaration)
	}
	if err := d.Validate(); err != nil {
		return Declaration{}, err
	}
	return d, nil
}

// LoadDeclaration reads and parses a declaration file
func LoadDeclaration(path string) (Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Declaration{}, fmt.Errorf("read capability declaration: %w", err)
	}
	return ParseDeclaration(data)
}
