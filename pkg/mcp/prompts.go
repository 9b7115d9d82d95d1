package mcp

import (
	"fmt"
	"strings"
	"sync"
)

// Prompt is a named message template with declared arguments.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`

	// Template is the body; {{name}} placeholders are substituted
	// from the prompts/get arguments.
	Template string `json:"-"`
}

// PromptArgument declares one template argument.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage is one rendered message of a prompt.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// PromptStore holds the prompts a server exposes.
type PromptStore struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Prompt
}

// NewPromptStore creates an empty store.
func NewPromptStore() *PromptStore {
	return &PromptStore{entries: make(map[string]Prompt)}
}

// Add registers a prompt; re-adding a name replaces it.
func (s *PromptStore) Add(p Prompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[p.Name]; !ok {
		s.order = append(s.order, p.Name)
	}
	s.entries[p.Name] = p
}

// List returns all prompts in registration order.
func (s *PromptStore) List() []Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Prompt, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entries[name])
	}
	return out
}

// Render substitutes arguments into a prompt template. Missing
// required arguments are an error; the bool reports existence.
func (s *PromptStore) Render(name string, args map[string]string) ([]PromptMessage, bool, error) {
	s.mu.RLock()
	p, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	for _, arg := range p.Arguments {
		if arg.Required {
			if _, present := args[arg.Name]; !present {
				return nil, true, fmt.Errorf("missing required argument: %s", arg.Name)
			}
		}
	}

	body := p.Template
	for key, value := range args {
		body = strings.ReplaceAll(body, "{{"+key+"}}", value)
	}

	return []PromptMessage{
		{Role: "user", Content: Content{Type: "text", Text: body}},
	}, true, nil
}
