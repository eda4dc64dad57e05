package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileRepository is a Repository that persists every record as one JSON
// file under a data directory, so captures survive proxy restarts. An
// in-memory repository serves lookups; the directory is the durable
// copy, loaded once at construction.
type FileRepository struct {
	dir string
	mem *MemoryRepository

	mu sync.Mutex // serializes file writes and removals
}

// NewFileRepository creates the data directory if needed and loads any
// existing records. A record file that fails to parse aborts the load;
// a corrupt capture set silently shrinking would make replay runs lie.
func NewFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating capture directory: %w", err)
	}

	r := &FileRepository{
		dir: dir,
		mem: NewMemoryRepository(),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading capture directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading capture %s: %w", entry.Name(), err)
		}
		rec, err := ParseRecord(data)
		if err != nil {
			return nil, fmt.Errorf("parsing capture %s: %w", entry.Name(), err)
		}
		if err := r.mem.SaveCapturedPair(rec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *FileRepository) recordPath(id string) string {
	return filepath.Join(r.dir, id+".json")
}

// SaveCapturedPair stores the record in memory and on disk. The file is
// written first so a crash cannot leave a record that replays now but
// vanishes on restart.
func (r *FileRepository) SaveCapturedPair(rec *Record) error {
	data, err := MarshalRecord(rec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	err = os.WriteFile(r.recordPath(rec.ID), data, 0o600)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing capture %s: %w", rec.ID, err)
	}
	return r.mem.SaveCapturedPair(rec)
}

// FindCandidates serves from the in-memory index.
func (r *FileRepository) FindCandidates(method, path, userID string, endpointType EndpointType) ([]*Record, error) {
	return r.mem.FindCandidates(method, path, userID, endpointType)
}

// GetEndpointMatchConfig serves from the in-memory index.
func (r *FileRepository) GetEndpointMatchConfig(method, path string, endpointType EndpointType) (*MatchConfig, error) {
	return r.mem.GetEndpointMatchConfig(method, path, endpointType)
}

// SetMatchConfig registers a per-endpoint match configuration.
func (r *FileRepository) SetMatchConfig(method, pathPattern string, cfg *MatchConfig) error {
	return r.mem.SetMatchConfig(method, pathPattern, cfg)
}

// Count returns the number of stored records.
func (r *FileRepository) Count() int {
	return r.mem.Count()
}

// Clear removes all records from memory and disk.
func (r *FileRepository) Clear() int {
	n := r.mem.Clear()

	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return n
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			_ = os.Remove(filepath.Join(r.dir, entry.Name()))
		}
	}
	return n
}

// Export renders all records as indented JSON.
func (r *FileRepository) Export() ([]byte, error) {
	return r.mem.Export()
}
