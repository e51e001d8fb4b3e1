package bridge

import (
	"sync"
	"time"
)

// Conn describes one registered capture surface (a tab's injected script
// or a popup attached to a tab).
type Conn struct {
	ID          string
	TabID       string
	ConnectedAt time.Time
}

// Registry tracks live connections and the last inspected selector per
// tab. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]Conn   // by connection ID
	inspected map[string]string // tabID -> selector
}

func NewRegistry() *Registry {
	return &Registry{
		conns:     make(map[string]Conn),
		inspected: make(map[string]string),
	}
}

// Register adds or replaces a connection.
func (r *Registry) Register(c Conn) {
	if c.ConnectedAt.IsZero() {
		c.ConnectedAt = time.Now()
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
}

// Unregister removes a connection. Unknown IDs are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Get looks up a connection by ID.
func (r *Registry) Get(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// ByTab returns all connections attached to a tab.
func (r *Registry) ByTab(tabID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Conn
	for _, c := range r.conns {
		if c.TabID == tabID {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SetLastInspected records the selector most recently inspected on a tab.
func (r *Registry) SetLastInspected(tabID, selector string) {
	r.mu.Lock()
	r.inspected[tabID] = selector
	r.mu.Unlock()
}

// LastInspected returns the selector most recently inspected on a tab.
func (r *Registry) LastInspected(tabID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sel, ok := r.inspected[tabID]
	return sel, ok
}

// DropTab removes everything known about a tab: its connections and its
// inspection state.
func (r *Registry) DropTab(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		if c.TabID == tabID {
			delete(r.conns, id)
		}
	}
	delete(r.inspected, tabID)
}
