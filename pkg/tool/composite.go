package tool

import (
	"context"
	"fmt"
)

// Composite chains tools into a pipeline. Steps run in sequence; an
// object output from one step is merged into the argument pool for
// later steps. The first failing step aborts the pipeline.
type Composite struct {
	name        string
	description string
	steps       []Tool
}

// NewComposite builds a composite tool from the given steps.
func NewComposite(name, description string, steps ...Tool) (*Composite, error) {
	if name == "" {
		return nil, fmt.Errorf("composite tool name cannot be empty")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("composite tool %q requires at least one step", name)
	}
	return &Composite{name: name, description: description, steps: steps}, nil
}

func (c *Composite) Metadata() Metadata {
	return Metadata{
		Name:        c.name,
		Description: c.description,
		Version:     "1.0.0",
		Tags:        []string{"composite"},
		Category:    "composite",
	}
}

// Parameters returns the union of the step parameters; the first
// declaration of a name wins.
func (c *Composite) Parameters() []Parameter {
	seen := make(map[string]struct{})
	var params []Parameter
	for _, step := range c.steps {
		for _, p := range step.Parameters() {
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			params = append(params, p)
		}
	}
	return params
}

func (c *Composite) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	pool := make(map[string]interface{}, len(args))
	for k, v := range args {
		pool[k] = v
	}

	results := make([]interface{}, 0, len(c.steps))
	for i, step := range c.steps {
		stepArgs := make(map[string]interface{})
		for _, p := range step.Parameters() {
			if v, ok := pool[p.Name]; ok {
				stepArgs[p.Name] = v
			}
		}

		out, err := step.Call(ctx, stepArgs)
		if err != nil {
			return nil, &ExecutionError{
				Tool:    c.name,
				Message: fmt.Sprintf("step %d (%s) failed", i+1, step.Metadata().Name),
				Err:     err,
			}
		}
		results = append(results, out)

		if m, ok := out.(map[string]interface{}); ok {
			for k, v := range m {
				pool[k] = v
			}
		}
	}

	return map[string]interface{}{
		"steps":        len(c.steps),
		"results":      results,
		"final_output": results[len(results)-1],
	}, nil
}
