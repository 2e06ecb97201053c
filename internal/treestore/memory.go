package treestore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store. It is safe for concurrent use and backs
// tests, local development, and the live-query feeds.
type Memory struct {
	mu      sync.RWMutex
	nodes   map[string]map[string]any
	subs    map[int]*subscriber
	nextSub int
	nowFn   func() time.Time
}

type subscriber struct {
	path string
	ch   chan Event
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[string]map[string]any),
		subs:  make(map[int]*subscriber),
		nowFn: time.Now,
	}
}

// SetNow overrides the clock used for server timestamps. Intended for
// tests.
func (m *Memory) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFn = now
}

// Write stores value at path, replacing any existing value.
func (m *Memory) Write(_ context.Context, path string, value map[string]any) error {
	path = normalizePath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	resolved := resolveTimestamps(value, m.nowFn)
	m.nodes[path] = resolved
	m.notifyLocked(path, EventPut, resolved)
	return nil
}

// Update merges fields into the value at path, creating it if absent.
func (m *Memory) Update(_ context.Context, path string, fields map[string]any) error {
	path = normalizePath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	merged := cloneFields(m.nodes[path])
	if merged == nil {
		merged = make(map[string]any, len(fields))
	}
	for k, v := range resolveTimestamps(fields, m.nowFn) {
		merged[k] = v
	}
	m.nodes[path] = merged
	m.notifyLocked(path, EventPut, merged)
	return nil
}

// Delete removes the value at path and every descendant. A no-op when
// nothing exists there.
func (m *Memory) Delete(_ context.Context, path string) error {
	path = normalizePath(path)
	prefix := path + "/"

	m.mu.Lock()
	defer m.mu.Unlock()

	for p := range m.nodes {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.nodes, p)
			m.notifyLocked(p, EventDelete, nil)
		}
	}
	return nil
}

// PushID allocates a new unique child key.
func (m *Memory) PushID(string) string {
	return uuid.NewString()
}

// ReadOnce returns the value at path.
func (m *Memory) ReadOnce(_ context.Context, path string) (map[string]any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.nodes[normalizePath(path)]
	if !ok {
		return nil, false, nil
	}
	return cloneFields(value), true, nil
}

// Children returns the direct children of path ordered by orderBy.
func (m *Memory) Children(_ context.Context, path, orderBy string) ([]Node, error) {
	m.mu.RLock()
	nodes := m.childrenLocked(normalizePath(path))
	m.mu.RUnlock()

	sortNodes(nodes, orderBy)
	return nodes, nil
}

// Subscribe opens a live query on the direct children of path.
func (m *Memory) Subscribe(ctx context.Context, path, orderBy string) (*Subscription, error) {
	path = normalizePath(path)
	ch := make(chan Event, 64)

	m.mu.Lock()
	snapshot := m.childrenLocked(path)
	sortNodes(snapshot, orderBy)
	ch <- Event{Type: EventSnapshot, Children: snapshot}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = &subscriber{path: path, ch: ch}
	m.mu.Unlock()

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			closeFn()
		}()
	}

	return &Subscription{events: ch, close: closeFn}, nil
}

// childrenLocked gathers direct children of path. A child that only
// exists as a branch (records deeper down, no value of its own) appears
// with a nil Value.
func (m *Memory) childrenLocked(path string) []Node {
	prefix := path + "/"
	if path == "" {
		prefix = ""
	}

	byKey := make(map[string]map[string]any)
	for p, v := range m.nodes {
		if !strings.HasPrefix(p, prefix) || p == path {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		seg, _, deeper := strings.Cut(rest, "/")
		if deeper {
			if _, ok := byKey[seg]; !ok {
				byKey[seg] = nil
			}
			continue
		}
		byKey[seg] = cloneFields(v)
	}

	nodes := make([]Node, 0, len(byKey))
	for key, value := range byKey {
		nodes = append(nodes, Node{Key: key, Value: value})
	}
	return nodes
}

// notifyLocked delivers a change to subscribers watching the parent of
// path. Sends never block; a subscriber whose buffer is full misses the
// event and picks the state up on its next snapshot.
func (m *Memory) notifyLocked(path string, typ EventType, value map[string]any) {
	parent, key := splitPath(path)

	for _, sub := range m.subs {
		if sub.path != parent {
			continue
		}
		ev := Event{Type: typ, Key: key}
		if typ == EventPut {
			ev.Value = cloneFields(value)
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
