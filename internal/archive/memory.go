package archive

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"lvm-go/internal/lvm"
)

// MemoryArchive keeps items in memory. It is safe for concurrent use.
type MemoryArchive struct {
	mu       sync.RWMutex
	items    map[string][]byte
	versions map[string]int64
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		items:    make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

func itemKey(projectID, name string) string {
	return projectID + "/" + name
}

func (m *MemoryArchive) Put(projectID, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read item: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := itemKey(projectID, name)
	m.items[key] = data
	m.versions[key] = version
	return nil
}

func (m *MemoryArchive) Get(projectID, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.items[itemKey(projectID, name)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s for project %s", ErrNotFound, name, projectID)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write item: %w", err)
	}
	return nil
}

func (m *MemoryArchive) Version(projectID, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[itemKey(projectID, name)], nil
}

func (m *MemoryArchive) ValidateSetup() error {
	return nil
}

var _ lvm.Archive = (*MemoryArchive)(nil)
