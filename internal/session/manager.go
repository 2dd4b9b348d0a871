package session

import (
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/workerdom/internal/shared/id"
)

// Closer is whatever a host attaches to a live session and must shut down
// with it, typically the worker owning the session.
type Closer interface {
	Close() error
}

// Info describes one registered session
type Info struct {
	ID        id.SessionID `json:"id"`
	Remote    string       `json:"remote,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

type entry struct {
	info   Info
	closer Closer
}

// Manager tracks the live sessions of a host process. It is safe for
// concurrent use.
type Manager struct {
	sessions sync.Map
	mu       sync.Mutex
	count    int
}

// NewManager creates an empty session manager
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a live session. Registering an id twice replaces the
// earlier entry without closing it.
func (m *Manager) Register(sid id.SessionID, remote string, c Closer) Info {
	info := Info{ID: sid, Remote: remote, CreatedAt: time.Now()}
	if _, loaded := m.sessions.Swap(sid, &entry{info: info, closer: c}); !loaded {
		m.mu.Lock()
		m.count++
		m.mu.Unlock()
	}
	return info
}

// Remove closes and forgets a session. It reports whether it was present.
func (m *Manager) Remove(sid id.SessionID) bool {
	v, ok := m.sessions.LoadAndDelete(sid)
	if !ok {
		return false
	}
	m.mu.Lock()
	m.count--
	m.mu.Unlock()
	if e := v.(*entry); e.closer != nil {
		_ = e.closer.Close()
	}
	return true
}

// Get returns the info of a live session
func (m *Manager) Get(sid id.SessionID) (Info, bool) {
	v, ok := m.sessions.Load(sid)
	if !ok {
		return Info{}, false
	}
	return v.(*entry).info, true
}

// List returns all live sessions, oldest first
func (m *Manager) List() []Info {
	var out []Info
	m.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*entry).info)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// CloseAll closes every live session
func (m *Manager) CloseAll() {
	m.sessions.Range(func(k, _ any) bool {
		m.Remove(k.(id.SessionID))
		return true
	})
}
