package content

import (
	"sync"
	"sync/atomic"
	"time"
)

// Manager holds the active doc bundle. The serving path reads through an
// atomic pointer; Set and Rollback serialize on a mutex so previous always
// tracks what active replaced.
type Manager struct {
	active atomic.Pointer[Snapshot]

	mu       sync.Mutex
	previous *Snapshot
}

func NewManager() *Manager { return &Manager{} }

// Set installs s as the active snapshot. The snapshot is copied so the
// caller cannot mutate what readers see, and the replaced snapshot is kept
// for Rollback.
func (m *Manager) Set(s Snapshot) {
	cp := new(Snapshot)
	*cp = s
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old := m.active.Load(); old != nil {
		m.previous = old
	}
	m.active.Store(cp)
}

// Rollback swaps active and previous, so a second Rollback undoes the
// first. Returns false when no earlier snapshot exists.
func (m *Manager) Rollback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previous == nil {
		return false
	}
	cur := m.active.Load()
	m.active.Store(m.previous)
	m.previous = cur
	return true
}

// Get returns the active snapshot. ok is false until a snapshot with a
// usable filesystem has been set.
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && s.FS != nil
}

// meta is the active snapshot's metadata, or the zero Meta before the
// first Set.
func (m *Manager) meta() Meta {
	if s := m.active.Load(); s != nil {
		return s.Meta
	}
	return Meta{}
}

// ContentVersion satisfies httpmw.ContentInfo.
func (m *Manager) ContentVersion() string { return m.meta().Version }

// ContentHash satisfies httpmw.ContentInfo.
func (m *Manager) ContentHash() string { return m.meta().SHA256 }

// Source reports where the active bundle came from.
func (m *Manager) Source() Source {
	if s := m.active.Load(); s != nil {
		return s.Meta.Source
	}
	return SourceUnknown
}

// LoadedAt is when the active snapshot was installed, zero before the
// first Set.
func (m *Manager) LoadedAt() time.Time {
	if s := m.active.Load(); s != nil {
		return s.LoadedAt
	}
	return time.Time{}
}
