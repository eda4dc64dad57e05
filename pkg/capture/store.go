package capture

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("capture not found")

// Repository is the persistence collaborator contract. Recording mode
// saves through it; replay mode reads candidates and per-endpoint match
// configuration from it.
type Repository interface {
	// SaveCapturedPair persists one unmodified backend request/response pair.
	SaveCapturedPair(rec *Record) error

	// FindCandidates returns records matching exactly on method, endpoint
	// path, and (for secure endpoints) caller identity. Dimension, query,
	// and body filtering is the match engine's job.
	FindCandidates(method, path, userID string, endpointType EndpointType) ([]*Record, error)

	// GetEndpointMatchConfig returns the per-endpoint matching
	// configuration, or a default when none is configured.
	GetEndpointMatchConfig(method, path string, endpointType EndpointType) (*MatchConfig, error)
}

// matchConfigRule binds a MatchConfig to a method + path regex.
type matchConfigRule struct {
	method string
	pathRe *regexp.Regexp
	config *MatchConfig
}

// MemoryRepository is an in-memory Repository used by tests and
// standalone runs. Records are kept per method+path bucket.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string][]*Record
	configs []matchConfigRule
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string][]*Record),
	}
}

func bucketKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// SaveCapturedPair stores the record.
func (m *MemoryRepository) SaveCapturedPair(rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bucketKey(rec.Request.Method, rec.Request.Path)
	m.records[key] = append(m.records[key], rec)
	return nil
}

// FindCandidates returns records matching method, path, and identity.
func (m *MemoryRepository) FindCandidates(method, path, userID string, endpointType EndpointType) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket := m.records[bucketKey(method, path)]
	out := make([]*Record, 0, len(bucket))
	for _, rec := range bucket {
		if rec.EndpointType != endpointType {
			continue
		}
		if endpointType == EndpointSecure && rec.UserID != userID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// SetMatchConfig registers a per-endpoint match configuration.
// The pattern is a regex matched against the endpoint path.
func (m *MemoryRepository) SetMatchConfig(method, pathPattern string, cfg *MatchConfig) error {
	re, err := regexp.Compile(pathPattern)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = append(m.configs, matchConfigRule{
		method: strings.ToUpper(method),
		pathRe: re,
		config: cfg,
	})
	sort.SliceStable(m.configs, func(i, j int) bool {
		return m.configs[i].config.Priority > m.configs[j].config.Priority
	})
	return nil
}

// GetEndpointMatchConfig returns the highest-priority config whose
// pattern covers the endpoint, or the default config.
func (m *MemoryRepository) GetEndpointMatchConfig(method, path string, endpointType EndpointType) (*MatchConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	upper := strings.ToUpper(method)
	for _, rule := range m.configs {
		if rule.method != "" && rule.method != upper {
			continue
		}
		if rule.pathRe.MatchString(path) {
			return rule.config, nil
		}
	}
	return DefaultMatchConfig(), nil
}

// Count returns the total number of stored records.
func (m *MemoryRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, bucket := range m.records {
		n += len(bucket)
	}
	return n
}

// Clear removes all records and returns how many were dropped.
func (m *MemoryRepository) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, bucket := range m.records {
		n += len(bucket)
	}
	m.records = make(map[string][]*Record)
	return n
}

// Export renders all records as indented JSON, ordered by record ID for
// deterministic output.
func (m *MemoryRepository) Export() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Record
	for _, bucket := range m.records {
		all = append(all, bucket...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return json.MarshalIndent(all, "", "  ")
}

// ParseRecord deserializes one persisted record. Malformed JSON is
// surfaced as a parse error, never silently dropped.
func ParseRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarshalRecord serializes one record for persistence.
func MarshalRecord(rec *Record) ([]byte, error) {
	return json.MarshalIndent(rec, "", "  ")
}
