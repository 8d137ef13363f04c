package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

type payloadSchema struct {
	schema *jsonschema.Schema
	decode func(data []byte) error
}

// SchemaValidator checks operation payloads against a schema derived from a Go type registered
// for the operation name. Operations with no registered type pass unchanged.
type SchemaValidator struct {
	mu      sync.RWMutex
	schemas map[string]payloadSchema
}

// NewSchemaValidator creates an empty schema validator
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{schemas: make(map[string]payloadSchema)}
}

// Reflect returns the JSON schema of T. Fields without omitempty are required and unknown
// properties are not allowed.
func Reflect[T any]() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	return reflector.Reflect(new(T))
}

// Register binds the payload type T to operation
func Register[T any](v *SchemaValidator, operation string) {
	entry := payloadSchema{
		schema: Reflect[T](),
		decode: func(data []byte) error {
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			return dec.Decode(new(T))
		},
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[operation] = entry
}

// Schema returns the schema registered for operation
func (v *SchemaValidator) Schema(operation string) (*jsonschema.Schema, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.schemas[operation]
	return entry.schema, ok
}

// Validate checks required properties and decodes the payload strictly into the registered type
func (v *SchemaValidator) Validate(_ context.Context, op protocol.Operation) (protocol.Operation, error) {
	v.mu.RLock()
	entry, ok := v.schemas[op.Name()]
	v.mu.RUnlock()
	if !ok {
		return op, nil
	}

	payload := op.Payload()
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return op, dispatcherrors.InvalidFormat("payload", "JSON object").WithDetail(err.Error())
	}
	for _, name := range entry.schema.Required {
		if _, present := fields[name]; !present {
			return op, dispatcherrors.MissingParameter("payload." + name)
		}
	}
	if err := entry.decode(payload); err != nil {
		return op, dispatcherrors.ValidationErrorf("payload does not match schema of %s", op.Name()).WithDetail(err.Error())
	}
	return op, nil
}
