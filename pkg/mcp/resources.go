package mcp

import (
	"sync"
)

// Resource is a piece of addressable content exposed over the
// protocol.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContent is the payload returned by resources/read.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ResourceReader produces the content of one resource on demand.
type ResourceReader func() (ResourceContent, error)

// ResourceStore holds the resources a server exposes.
type ResourceStore struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]resourceEntry
}

type resourceEntry struct {
	resource Resource
	reader   ResourceReader
}

// NewResourceStore creates an empty store.
func NewResourceStore() *ResourceStore {
	return &ResourceStore{entries: make(map[string]resourceEntry)}
}

// Add registers a resource; re-adding a URI replaces it.
func (s *ResourceStore) Add(res Resource, reader ResourceReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[res.URI]; !ok {
		s.order = append(s.order, res.URI)
	}
	s.entries[res.URI] = resourceEntry{resource: res, reader: reader}
}

// List returns all resources in registration order.
func (s *ResourceStore) List() []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Resource, 0, len(s.order))
	for _, uri := range s.order {
		out = append(out, s.entries[uri].resource)
	}
	return out
}

// Read resolves one resource's content. The bool reports existence.
func (s *ResourceStore) Read(uri string) (ResourceContent, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[uri]
	s.mu.RUnlock()
	if !ok {
		return ResourceContent{}, false, nil
	}
	content, err := entry.reader()
	return content, true, err
}
