package proxy

import (
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// DefaultTimeout is used when an entry carries no timeout.
const DefaultTimeout = 10 * time.Second

// Auth holds proxy credentials.
type Auth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Entry is one egress proxy.
type Entry struct {
	// URL is scheme://host:port without credentials.
	URL       string `json:"url"`
	Auth      *Auth  `json:"auth,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// Timeout returns the entry's probe/connect timeout.
func (e Entry) Timeout() time.Duration {
	if e.TimeoutMs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// ParseEntry parses a proxy URL, moving embedded user:pass into Auth.
// A URL without a scheme is treated as http.
func ParseEntry(raw string) (Entry, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return Entry{}, err
		}
	}
	e := Entry{}
	if u.User != nil {
		pass, _ := u.User.Password()
		e.Auth = &Auth{Username: u.User.Username(), Password: pass}
		u.User = nil
	}
	e.URL = u.String()
	return e, nil
}

// ParseEntries parses raw proxy URLs, skipping and logging invalid ones.
func ParseEntries(raws []string) []Entry {
	out := make([]Entry, 0, len(raws))
	for _, r := range raws {
		e, err := ParseEntry(r)
		if err != nil {
			slog.Warn("ignoring invalid proxy", "proxy", r, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out
}

// Stats is a snapshot of the pool.
type Stats struct {
	Total        int `json:"total"`
	Failed       int `json:"failed"`
	Available    int `json:"available"`
	CurrentIndex int `json:"currentIndex"`
}

// Manager rotates over a proxy pool, skipping quarantined entries.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	entries []Entry
	cursor  int
	failed  map[int]struct{}
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{failed: make(map[int]struct{})}
}

// Initialize replaces the pool and resets the cursor and failure set.
// Entries without a URL are dropped.
func (m *Manager) Initialize(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = m.entries[:0]
	for _, e := range entries {
		if e.URL != "" {
			m.entries = append(m.entries, e)
		}
	}
	m.cursor = 0
	m.failed = make(map[int]struct{})
	slog.Info("proxy pool initialized", "proxies", len(m.entries))
}

// Next returns the next non-quarantined entry in round-robin order.
// When every entry is quarantined the failure set is cleared and the
// first entry is returned. ok is false only for an empty pool.
func (m *Manager) Next() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries)
	if n == 0 {
		return Entry{}, false
	}
	if len(m.failed) >= n {
		slog.Warn("all proxies failed, resetting failed list")
		clear(m.failed)
		m.cursor = 1 % n
		return m.entries[0], true
	}

	for range n {
		idx := m.cursor
		m.cursor = (m.cursor + 1) % n
		if _, bad := m.failed[idx]; !bad {
			return m.entries[idx], true
		}
	}
	// Unreachable: at least one entry is healthy.
	return m.entries[0], true
}

// MarkFailed quarantines the pool entry with e's URL.
func (m *Manager) MarkFailed(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range m.entries {
		if p.URL == e.URL {
			m.failed[i] = struct{}{}
			slog.Warn("marked proxy as failed", "proxy", e.URL)
			return
		}
	}
}

// ResetFailed clears the failure set.
func (m *Manager) ResetFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.failed)
	slog.Info("reset failed proxies list")
}

// Stats returns pool counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Total:        len(m.entries),
		Failed:       len(m.failed),
		Available:    len(m.entries) - len(m.failed),
		CurrentIndex: m.cursor,
	}
}
