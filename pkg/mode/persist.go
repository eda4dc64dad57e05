package mode

import (
	"fmt"
	"os"
	"strings"
)

// FilePersister stores the active mode in a plain text file so the
// proxy resumes in the same mode after a restart.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister backed by the given file.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Save writes the mode name to the file.
func (p *FilePersister) Save(m Mode) error {
	if err := os.WriteFile(p.path, []byte(string(m)+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing mode file: %w", err)
	}
	return nil
}

// Load reads the persisted mode. A missing file means no persisted
// mode; a malformed one is an error so typos do not silently reset
// the proxy to passthrough.
func (p *FilePersister) Load() (Mode, bool, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading mode file: %w", err)
	}
	m, err := Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return "", false, err
	}
	return m, true, nil
}
