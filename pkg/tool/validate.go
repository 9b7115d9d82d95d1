package tool

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validator checks caller-supplied argument maps against a tool's
// parameter specs. It is compiled once at registration and safe for
// concurrent use.
type Validator struct {
	specs  []Parameter
	byName map[string]Parameter
	schema *gojsonschema.Schema
}

// NewValidator compiles a validator for the given parameter specs.
func NewValidator(specs []Parameter) (*Validator, error) {
	byName := make(map[string]Parameter, len(specs))
	for _, p := range specs {
		if err := checkSpec(p); err != nil {
			return nil, err
		}
		if _, exists := byName[p.Name]; exists {
			return nil, fmt.Errorf("duplicate parameter name: %s", p.Name)
		}
		byName[p.Name] = p
	}

	loader := gojsonschema.NewGoLoader(SchemaMap(specs))
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("failed to compile parameter schema: %w", err)
	}

	return &Validator{specs: specs, byName: byName, schema: schema}, nil
}

// checkSpec validates a single parameter spec at compile time.
func checkSpec(p Parameter) error {
	if p.Name == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}
	if !identPattern.MatchString(p.Name) {
		return fmt.Errorf("invalid parameter name: %s", p.Name)
	}
	if !IsValidType(p.Type) {
		return fmt.Errorf("invalid parameter type %q for %s", p.Type, p.Name)
	}
	if p.Type == TypeEnum && (p.Constraints == nil || len(p.Constraints.Enum) == 0) {
		return fmt.Errorf("enum parameter %s requires an enum constraint", p.Name)
	}
	if p.Constraints != nil && p.Constraints.Pattern != "" {
		if _, err := regexp.Compile(p.Constraints.Pattern); err != nil {
			return fmt.Errorf("invalid pattern for %s: %w", p.Name, err)
		}
	}
	if p.Default != nil {
		if _, err := coerce(p.Default, p); err != nil {
			return fmt.Errorf("default for %s does not match type %s", p.Name, p.Type)
		}
	}
	return nil
}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SchemaMap builds the JSON Schema object describing the parameter
// specs. The same schema is served over the protocol by tools/list.
func SchemaMap(specs []Parameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(specs))
	required := []string{}

	for _, p := range specs {
		prop := map[string]interface{}{
			"type":        jsonType(p.Type),
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if c := p.Constraints; c != nil {
			if c.Min != nil {
				prop["minimum"] = *c.Min
			}
			if c.Max != nil {
				prop["maximum"] = *c.Max
			}
			if c.MinLength != nil {
				prop["minLength"] = *c.MinLength
			}
			if c.MaxLength != nil {
				prop["maxLength"] = *c.MaxLength
			}
			if c.Pattern != "" {
				prop["pattern"] = c.Pattern
			}
			if len(c.Enum) > 0 {
				prop["enum"] = c.Enum
			}
			if c.Items != "" {
				prop["items"] = map[string]interface{}{"type": jsonType(c.Items)}
			}
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}
	sort.Strings(required)

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// jsonType maps a ParameterType to its JSON Schema type keyword.
func jsonType(t ParameterType) string {
	switch t {
	case TypeEnum, TypePath:
		return "string"
	default:
		return string(t)
	}
}

// Validate produces a validated, defaulted, type-coerced argument map
// or fails with a *ValidationError naming the offending parameter.
// Checks run in order: unknown names, required presence, defaults,
// type coercion, constraints. All checks run before any side effect.
// Validation is idempotent: validating its own output yields an equal
// map.
func (v *Validator) Validate(args map[string]interface{}) (map[string]interface{}, error) {
	// Reject unknown parameter names.
	var unknown []string
	for name := range args {
		if _, ok := v.byName[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ValidationError{
			Parameter: strings.Join(unknown, ", "),
			Expected:  "known parameters",
			Message:   fmt.Sprintf("unknown parameters: %s", strings.Join(unknown, ", ")),
		}
	}

	validated := make(map[string]interface{}, len(v.specs))
	for _, spec := range v.specs {
		value, present := args[spec.Name]

		if !present {
			if spec.Required {
				return nil, &ValidationError{
					Parameter: spec.Name,
					Expected:  string(spec.Type),
					Message:   fmt.Sprintf("missing required parameter: %s", spec.Name),
				}
			}
			if spec.Default != nil {
				value = spec.Default
			} else {
				continue
			}
		}

		coerced, err := coerce(value, spec)
		if err != nil {
			return nil, err
		}
		validated[spec.Name] = coerced
	}

	// Constraint and shape checks via the compiled schema.
	loaded := gojsonschema.NewGoLoader(validated)
	res, err := v.schema.Validate(loaded)
	if err != nil {
		return nil, &ValidationError{Parameter: "", Expected: "valid arguments", Message: err.Error()}
	}
	if !res.Valid() {
		first := res.Errors()[0]
		return nil, &ValidationError{
			Parameter: first.Field(),
			Expected:  first.Type(),
			Message:   fmt.Sprintf("parameter %s: %s", first.Field(), first.Description()),
		}
	}

	return validated, nil
}

// coerce verifies a value against a spec's declared type, converting
// compatible representations (JSON numbers arrive as float64).
func coerce(value interface{}, spec Parameter) (interface{}, error) {
	fail := func() (interface{}, error) {
		return nil, &ValidationError{
			Parameter: spec.Name,
			Expected:  string(spec.Type),
			Message:   fmt.Sprintf("parameter %s: expected %s, got %T", spec.Name, spec.Type, value),
		}
	}

	switch spec.Type {
	case TypeString, TypePath, TypeEnum:
		s, ok := value.(string)
		if !ok {
			return fail()
		}
		return s, nil

	case TypeInteger:
		switch n := value.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n != math.Trunc(n) {
				return fail()
			}
			return int(n), nil
		default:
			return fail()
		}

	case TypeNumber:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return fail()
		}

	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return fail()
		}
		return b, nil

	case TypeArray:
		a, ok := value.([]interface{})
		if !ok {
			return fail()
		}
		return a, nil

	case TypeObject:
		o, ok := value.(map[string]interface{})
		if !ok {
			return fail()
		}
		return o, nil
	}

	return fail()
}
