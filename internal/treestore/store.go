// Package treestore provides the keyed hierarchical store the marketplace
// persists into: values live at slash-separated paths, children of a path
// can be queried ordered by a field, and live queries deliver a snapshot
// followed by incremental change events.
//
// The store offers no cross-path transactions. Multi-location writes are
// issued independently by callers, which is why deletes are idempotent and
// why callers sequence their writes explicitly.
package treestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ServerTimestamp is a sentinel field value replaced by the store's own
// clock (epoch milliseconds, UTC) at write time.
var ServerTimestamp = serverTimestamp{}

type serverTimestamp struct{}

// ErrSubscribeUnsupported is returned by backends that cannot deliver
// live queries.
var ErrSubscribeUnsupported = errors.New("treestore: live queries not supported by this backend")

// Node is one direct child of a queried path. Value is nil for branch
// nodes that carry no record of their own.
type Node struct {
	Key   string
	Value map[string]any
}

// EventType classifies a subscription event.
type EventType string

const (
	// EventSnapshot carries the full ordered child set at subscribe time.
	EventSnapshot EventType = "snapshot"
	// EventPut reports a child written or updated.
	EventPut EventType = "put"
	// EventDelete reports a child removed.
	EventDelete EventType = "delete"
)

// Event is one change delivered on a subscription.
type Event struct {
	Type     EventType
	Key      string
	Value    map[string]any
	Children []Node
}

// Store is the persistence interface consumed by the marketplace core.
type Store interface {
	// Write stores value at path, replacing any existing value.
	Write(ctx context.Context, path string, value map[string]any) error
	// Update merges fields into the value at path, creating it if absent.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Delete removes the value at path and every descendant. Deleting an
	// absent path is a no-op.
	Delete(ctx context.Context, path string) error
	// PushID allocates a new globally unique child key under path.
	PushID(path string) string
	// ReadOnce returns the value at path, reporting whether it exists.
	ReadOnce(ctx context.Context, path string) (map[string]any, bool, error)
	// Children returns the direct children of path ordered ascending by
	// the named field (by key when orderBy is empty).
	Children(ctx context.Context, path, orderBy string) ([]Node, error)
	// Subscribe opens a live query on the direct children of path. The
	// first event is a snapshot; subsequent events are puts and deletes.
	Subscribe(ctx context.Context, path, orderBy string) (*Subscription, error)
}

// StoreError wraps a failed store operation with the path it touched.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("treestore: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError reports whether err is a StoreError.
func IsStoreError(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}

// Subscription is a cancellable live query. Events are delivered on the
// channel returned by Events until Close is called or the subscribing
// context is cancelled; slow consumers may miss incremental events and
// should resubscribe for a fresh snapshot.
type Subscription struct {
	events chan Event
	close  func()
}

// Events returns the event channel. It is closed when the subscription
// ends.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.close() }

// normalizePath strips leading and trailing separators.
func normalizePath(path string) string {
	return strings.Trim(path, "/")
}

// splitPath returns the parent path and final key segment.
func splitPath(path string) (parent, key string) {
	path = normalizePath(path)
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// sortNodes orders nodes ascending by the named field, key as tiebreak.
// Nodes missing the field sort first.
func sortNodes(nodes []Node, orderBy string) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if orderBy == "" {
			return nodes[i].Key < nodes[j].Key
		}
		cmp := compareFieldValues(nodes[i].Value[orderBy], nodes[j].Value[orderBy])
		if cmp != 0 {
			return cmp < 0
		}
		return nodes[i].Key < nodes[j].Key
	})
}

// compareFieldValues orders two loose field values: absent first, then
// numerically when both sides are numbers, then by string form.
func compareFieldValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// resolveTimestamps clones value, replacing ServerTimestamp sentinels
// with the current clock reading.
func resolveTimestamps(value map[string]any, now func() time.Time) map[string]any {
	out := make(map[string]any, len(value))
	for k, v := range value {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now().UTC().UnixMilli()
			continue
		}
		out[k] = v
	}
	return out
}

func cloneFields(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}
	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = v
	}
	return out
}
