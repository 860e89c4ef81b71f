package sync

import (
	stdsync "sync"

	"github.com/apprise/tracksync/internal/schema"
)

type remapKey struct {
	kind    schema.Kind
	localID int64
}

// Remap maps local ids to the remote ids assigned during a single pass.
// It is never persisted. Safe for concurrent use.
type Remap struct {
	mu  stdsync.RWMutex
	ids map[remapKey]int64
}

// NewRemap returns an empty table.
func NewRemap() *Remap {
	return &Remap{ids: make(map[remapKey]int64)}
}

// Put records the remote id assigned to a local record.
func (m *Remap) Put(kind schema.Kind, localID, remoteID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[remapKey{kind, localID}] = remoteID
}

// Get returns the remote id assigned to a local record during this pass.
func (m *Remap) Get(kind schema.Kind, localID int64) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.ids[remapKey{kind, localID}]
	return id, ok
}

// Len returns the number of entries.
func (m *Remap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}
