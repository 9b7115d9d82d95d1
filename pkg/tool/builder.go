package tool

import (
	"fmt"
)

// Builder constructs native tools explicitly: metadata, parameter
// specs, and a pure execution handler. Build validates the whole
// definition before a tool ever reaches a registry.
type Builder struct {
	meta    Metadata
	params  []Parameter
	handler Handler
}

// NewBuilder starts a tool definition with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		meta: Metadata{
			Name:    name,
			Version: "1.0.0",
		},
	}
}

// Description sets the human description.
func (b *Builder) Description(desc string) *Builder {
	b.meta.Description = desc
	return b
}

// Version sets the semantic version (default "1.0.0").
func (b *Builder) Version(v string) *Builder {
	b.meta.Version = v
	return b
}

// Author sets the author field.
func (b *Builder) Author(author string) *Builder {
	b.meta.Author = author
	return b
}

// Category sets the category used by the registry's secondary index.
func (b *Builder) Category(category string) *Builder {
	b.meta.Category = category
	return b
}

// Tags appends tags. Security-relevant tags: system, network,
// file_read, file_write, dangerous.
func (b *Builder) Tags(tags ...string) *Builder {
	b.meta.Tags = append(b.meta.Tags, tags...)
	return b
}

// Dangerous marks the tool as requiring the unrestricted level.
func (b *Builder) Dangerous() *Builder {
	b.meta.Dangerous = true
	return b
}

// Deprecated flags the tool, with a message shown at execution time.
func (b *Builder) Deprecated(message string) *Builder {
	b.meta.Deprecated = true
	b.meta.DeprecationMessage = message
	return b
}

// Param appends a full parameter spec.
func (b *Builder) Param(p Parameter) *Builder {
	b.params = append(b.params, p)
	return b
}

// StringParam appends a string parameter.
func (b *Builder) StringParam(name, desc string, required bool) *Builder {
	return b.Param(Parameter{Name: name, Type: TypeString, Description: desc, Required: required})
}

// PathParam appends a filesystem-path parameter subject to the
// security allow-list.
func (b *Builder) PathParam(name, desc string, required bool) *Builder {
	return b.Param(Parameter{Name: name, Type: TypePath, Description: desc, Required: required})
}

// BoolParam appends a boolean parameter with a default.
func (b *Builder) BoolParam(name, desc string, def bool) *Builder {
	return b.Param(Parameter{Name: name, Type: TypeBoolean, Description: desc, Default: def})
}

// IntParam appends an integer parameter.
func (b *Builder) IntParam(name, desc string, required bool) *Builder {
	return b.Param(Parameter{Name: name, Type: TypeInteger, Description: desc, Required: required})
}

// Handler sets the execution body.
func (b *Builder) Handler(h Handler) *Builder {
	b.handler = h
	return b
}

// Build validates the definition and returns the tool.
func (b *Builder) Build() (Tool, error) {
	if b.meta.Name == "" {
		return nil, fmt.Errorf("tool name cannot be empty")
	}
	if b.meta.Description == "" {
		return nil, fmt.Errorf("tool description cannot be empty")
	}
	if b.handler == nil {
		return nil, fmt.Errorf("tool handler cannot be nil")
	}
	// NewValidator performs full per-parameter validation.
	if _, err := NewValidator(b.params); err != nil {
		return nil, fmt.Errorf("invalid tool definition %q: %w", b.meta.Name, err)
	}

	params := make([]Parameter, len(b.params))
	copy(params, b.params)

	return &funcTool{meta: b.meta, params: params, handler: b.handler}, nil
}

// MustBuild is Build for static tool definitions; it panics on an
// invalid definition.
func (b *Builder) MustBuild() Tool {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}
