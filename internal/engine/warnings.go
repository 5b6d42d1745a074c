package engine

import (
	"sort"
	"strings"
	"sync"
)

// WarningQueue collects non-fatal engine diagnostics from any goroutine.
// Drain order across concurrent requests is best effort.
type WarningQueue struct {
	mu    sync.Mutex
	items []string
}

// Warnings is the process-wide queue engines push library diagnostics onto.
var Warnings = &WarningQueue{}

func (q *WarningQueue) Push(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
}

func (q *WarningQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *WarningQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Blocklist holds operation names (such as "jpegload") that are refused at
// runtime.
type Blocklist struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
}

func NewBlocklist(names ...string) *Blocklist {
	b := &Blocklist{blocked: make(map[string]struct{})}
	b.Set(names, true)
	return b
}

func (b *Blocklist) Set(names []string, blocked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if blocked {
			b.blocked[name] = struct{}{}
		} else {
			delete(b.blocked, name)
		}
	}
}

func (b *Blocklist) Blocked(name string) bool {
	if name == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocked[strings.ToLower(name)]
	return ok
}

func (b *Blocklist) List() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.blocked))
	for name := range b.blocked {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
