// Package tool defines the capability contract: typed parameter
// schemas, metadata, the Tool interface, and the validation that runs
// before any execution body sees caller input.
package tool

import (
	"context"
)

// ParameterType enumerates the supported parameter types.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeInteger ParameterType = "integer"
	TypeNumber  ParameterType = "number"
	TypeBoolean ParameterType = "boolean"
	TypeArray   ParameterType = "array"
	TypeObject  ParameterType = "object"
	TypeEnum    ParameterType = "enum"
	// TypePath marks filesystem-target parameters. Values are strings;
	// the security policy resolves them against the path allow-list.
	TypePath ParameterType = "path"
)

// ValidTypes returns all valid parameter types.
func ValidTypes() []ParameterType {
	return []ParameterType{
		TypeString, TypeInteger, TypeNumber, TypeBoolean,
		TypeArray, TypeObject, TypeEnum, TypePath,
	}
}

// IsValidType checks whether t is a supported parameter type.
func IsValidType(t ParameterType) bool {
	for _, v := range ValidTypes() {
		if t == v {
			return true
		}
	}
	return false
}

// Constraints holds optional per-parameter restrictions.
type Constraints struct {
	Min       *float64      `json:"min,omitempty"`
	Max       *float64      `json:"max,omitempty"`
	MinLength *int          `json:"min_length,omitempty"`
	MaxLength *int          `json:"max_length,omitempty"`
	Pattern   string        `json:"pattern,omitempty"`
	Enum      []interface{} `json:"enum,omitempty"`
	Items     ParameterType `json:"items,omitempty"`
}

// Parameter describes a single tool parameter. Parameters are
// immutable once their tool is registered.
type Parameter struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Description string        `json:"description"`
	Required    bool          `json:"required"`
	Default     interface{}   `json:"default,omitempty"`
	Constraints *Constraints  `json:"constraints,omitempty"`
}

// Metadata describes a tool. The Dangerous flag drives security
// checks; it is equivalent to carrying the "dangerous" tag.
type Metadata struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Version            string   `json:"version"`
	Author             string   `json:"author,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	Category           string   `json:"category,omitempty"`
	Deprecated         bool     `json:"deprecated,omitempty"`
	DeprecationMessage string   `json:"deprecation_message,omitempty"`
	Dangerous          bool     `json:"dangerous,omitempty"`
}

// HasTag reports whether the metadata carries the given tag. The
// Dangerous flag counts as the "dangerous" tag.
func (m Metadata) HasTag(tag string) bool {
	if tag == "dangerous" && m.Dangerous {
		return true
	}
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Handler is the execution body of a tool. It only ever receives
// validated arguments.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool is the capability contract. Implementations: builder-made
// native tools, composite pipelines, and remote proxy tools.
type Tool interface {
	// Metadata returns the tool's immutable metadata.
	Metadata() Metadata

	// Parameters returns the tool's ordered parameter specs.
	Parameters() []Parameter

	// Call executes the tool body with validated arguments. Callers
	// must not pass raw input; the registry pipeline validates first.
	Call(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// funcTool is the native tool variant produced by the Builder.
type funcTool struct {
	meta    Metadata
	params  []Parameter
	handler Handler
}

func (t *funcTool) Metadata() Metadata { return t.meta }

func (t *funcTool) Parameters() []Parameter {
	params := make([]Parameter, len(t.params))
	copy(params, t.params)
	return params
}

func (t *funcTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return t.handler(ctx, args)
}
