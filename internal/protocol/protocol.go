// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package protocol decodes commands received over the message bus.
//
// Commands carry no type tag. Each payload is checked against the JSON
// Schema of every registered command in declaration order and decoded as
// the first one it satisfies.
package protocol

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"

	"github.com/aughey/framebridge/pkg/plugin"
)

// SchemaBaseURL prefixes the $id of every generated command schema.
const SchemaBaseURL = "https://github.com/aughey/framebridge/schemas/"

// Command is a decoded bus command.
type Command interface {
	// CommandName identifies the command in logs and schema file names.
	CommandName() string
}

// ShutdownCommand asks the host to stop when Shutdown is true.
type ShutdownCommand struct {
	Shutdown bool `json:"shutdown" jsonschema:"description=Request host shutdown when true"`
}

// CommandName implements Command.
func (ShutdownCommand) CommandName() string { return "shutdown" }

// SpeedTestCommand switches speed-test mode, in which frames do the minimum
// amount of work.
type SpeedTestCommand struct {
	SpeedTest bool `json:"speed_test" jsonschema:"description=Enable or disable speed-test mode"`
}

// CommandName implements Command.
func (SpeedTestCommand) CommandName() string { return "speed_test" }

type candidate struct {
	name   string
	raw    []byte
	schema *jschema.Schema
	decode func(data []byte) (Command, error)
}

// Parser matches payloads against an ordered list of command schemas.
// A Parser is safe for concurrent use once registration is done.
type Parser struct {
	candidates []candidate
}

// NewParser returns an empty parser. Use Register to add commands.
func NewParser() *Parser {
	return &Parser{}
}

// DefaultParser returns a parser for the built-in commands, shutdown first.
func DefaultParser() (*Parser, error) {
	p := NewParser()
	if err := Register[ShutdownCommand](p); err != nil {
		return nil, err
	}
	if err := Register[SpeedTestCommand](p); err != nil {
		return nil, err
	}
	return p, nil
}

// Register appends command type T to p. Earlier registrations take
// precedence when a payload matches more than one schema.
func Register[T Command](p *Parser) error {
	var zero T
	name := zero.CommandName()
	for _, c := range p.candidates {
		if c.name == name {
			return oops.Code("DUPLICATE_COMMAND").With("command", name).Errorf("command %s already registered", name)
		}
	}

	raw, err := GenerateSchema(zero)
	if err != nil {
		return oops.With("command", name).Wrap(err)
	}
	sch, err := compileSchema(name, raw)
	if err != nil {
		return oops.With("command", name).Wrap(err)
	}

	p.candidates = append(p.candidates, candidate{
		name:   name,
		raw:    raw,
		schema: sch,
		decode: func(data []byte) (Command, error) {
			var cmd T
			if err := json.Unmarshal(data, &cmd); err != nil {
				return nil, err
			}
			return cmd, nil
		},
	})
	return nil
}

// GenerateSchema reflects the JSON Schema for a command.
func GenerateSchema(cmd Command) ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(cmd)
	schema.ID = jsonschema.ID(schemaID(cmd.CommandName()))
	schema.Title = cmd.CommandName() + " command"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Wrapf(err, "marshal schema")
	}
	return data, nil
}

func schemaID(name string) string {
	return SchemaBaseURL + name + ".schema.json"
}

func compileSchema(name string, raw []byte) (*jschema.Schema, error) {
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.Wrapf(err, "parse schema JSON")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource(schemaID(name), doc); err != nil {
		return nil, oops.Wrapf(err, "add schema resource")
	}
	sch, err := c.Compile(schemaID(name))
	if err != nil {
		return nil, oops.Wrapf(err, "compile schema")
	}
	return sch, nil
}

// Names returns the registered command names in precedence order.
func (p *Parser) Names() []string {
	out := make([]string, len(p.candidates))
	for i, c := range p.candidates {
		out[i] = c.name
	}
	return out
}

// Schema returns the generated JSON Schema for the named command.
func (p *Parser) Schema(name string) ([]byte, bool) {
	for _, c := range p.candidates {
		if c.name == name {
			return c.raw, true
		}
	}
	return nil, false
}

// Parse decodes payload as the first registered command whose schema it
// satisfies. Payloads that are not JSON or match no schema yield a
// PROTOCOL_ERROR.
func (p *Parser) Parse(payload []byte) (Command, error) {
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return nil, plugin.ErrProtocol("payload is not valid JSON", payload)
	}

	var matched []candidate
	for _, c := range p.candidates {
		if c.schema.Validate(doc) == nil {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return nil, plugin.ErrProtocol("no command schema matched", payload)
	}
	if len(matched) > 1 {
		names := make([]string, len(matched))
		for i, c := range matched {
			names[i] = c.name
		}
		slog.Debug("payload matches several commands; using the first declared",
			"matched", names,
			"chosen", matched[0].name)
	}

	cmd, err := matched[0].decode(payload)
	if err != nil {
		return nil, plugin.ErrProtocol("decode "+matched[0].name+": "+err.Error(), payload)
	}
	return cmd, nil
}
