// Package template provides canned status-coded responses for replay
// mode's template fallback.
package template

import (
	"sync"
)

// Response is one canned response template.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// Store resolves a template for a status code. The admin API (out of
// core scope) manages the underlying set.
type Store interface {
	// GetTemplateForStatus returns the template for the status code,
	// or false when none is configured.
	GetTemplateForStatus(status int) (*Response, bool)
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[int]*Response
}

// NewMemoryStore creates an empty template store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[int]*Response)}
}

// Set registers a template for a status code.
func (s *MemoryStore) Set(status int, tpl *Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl.Status = status
	s.templates[status] = tpl
}

// GetTemplateForStatus returns the template for the status code.
func (s *MemoryStore) GetTemplateForStatus(status int) (*Response, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[status]
	return tpl, ok
}
