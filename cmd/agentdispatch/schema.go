package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/config"
)

// SchemaCmd writes the JSON Schema of the configuration file or the capability declaration.
type SchemaCmd struct {
	Target  string `help:"Which document to describe." enum:"config,capabilities" default:"config"`
	Compact bool   `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run() error {
	return c.write(os.Stdout)
}

func (c *SchemaCmd) write(w io.Writer) error {
	schema, err := reflectSchema(c.Target)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}

func reflectSchema(target string) (*jsonschema.Schema, error) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		// config files are YAML, so property names follow the yaml tags
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}

	var schema *jsonschema.Schema
	switch target {
	case "", "config":
		schema = reflector.Reflect(&config.Config{})
		schema.Title = "Agent dispatch configuration"
	case "capabilities":
		schema = reflector.Reflect(&capability.Declaration{})
		schema.Title = "Transport capability declaration"
	default:
		return nil, fmt.Errorf("unknown schema target %q", target)
	}
	schema.Version = "http://json-schema.org/draft-07/schema#"
	return schema, nil
}
