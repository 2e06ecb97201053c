package treestore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryWriteReadDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.Write(ctx, "categories/sports", map[string]any{"name": "Sports"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	value, ok, err := store.ReadOnce(ctx, "categories/sports")
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if value["name"] != "Sports" {
		t.Fatalf("unexpected value: %v", value)
	}

	// Mutating the returned map must not leak into the store.
	value["name"] = "Hacked"
	again, _, _ := store.ReadOnce(ctx, "categories/sports")
	if again["name"] != "Sports" {
		t.Error("ReadOnce returned an aliased map")
	}

	if err := store.Delete(ctx, "categories/sports"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.ReadOnce(ctx, "categories/sports"); ok {
		t.Error("value still present after delete")
	}

	// Deleting again is a no-op, not an error.
	if err := store.Delete(ctx, "categories/sports"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestMemoryUpdateMerges(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	store.Write(ctx, "categories/sports", map[string]any{"name": "Sports", "creatorId": "uidA"})
	if err := store.Update(ctx, "categories/sports", map[string]any{"name": "Outdoors"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	value, _, _ := store.ReadOnce(ctx, "categories/sports")
	if value["name"] != "Outdoors" {
		t.Errorf("name = %v, want Outdoors", value["name"])
	}
	if value["creatorId"] != "uidA" {
		t.Error("update clobbered an untouched field")
	}
}

func TestMemorySubtreeDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	store.Write(ctx, "categories/sports", map[string]any{"name": "Sports"})
	store.Write(ctx, "categories/sports/items/i1", map[string]any{"name": "Bike"})
	store.Write(ctx, "categories/books", map[string]any{"name": "Books"})

	if err := store.Delete(ctx, "categories/sports"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.ReadOnce(ctx, "categories/sports/items/i1"); ok {
		t.Error("descendant survived subtree delete")
	}
	if _, ok, _ := store.ReadOnce(ctx, "categories/books"); !ok {
		t.Error("sibling removed by subtree delete")
	}
}

func TestMemoryChildrenOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	store.Write(ctx, "categories/c1", map[string]any{"name": "Sports"})
	store.Write(ctx, "categories/c2", map[string]any{"name": "Books"})
	store.Write(ctx, "categories/c3", map[string]any{"name": "Music"})

	nodes, err := store.Children(ctx, "categories", "name")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	got := []string{}
	for _, n := range nodes {
		got = append(got, n.Value["name"].(string))
	}
	want := []string{"Books", "Music", "Sports"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestMemoryChildrenNumericOrderingAndBranches(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	store.Write(ctx, "categories/c1/items/a", map[string]any{"name": "Late", "postedAt": int64(200)})
	store.Write(ctx, "categories/c1/items/b", map[string]any{"name": "Early", "postedAt": int64(100)})
	store.Write(ctx, "categories/c1/items/c", map[string]any{"name": "Unstamped"})

	nodes, err := store.Children(ctx, "categories/c1/items", "postedAt")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 children, got %d", len(nodes))
	}
	// Missing field sorts first, then ascending numeric.
	if nodes[0].Key != "c" || nodes[1].Key != "b" || nodes[2].Key != "a" {
		t.Fatalf("order = %s,%s,%s", nodes[0].Key, nodes[1].Key, nodes[2].Key)
	}

	// The items branch shows up as a child of the category with no value.
	kids, _ := store.Children(ctx, "categories/c1", "")
	if len(kids) != 1 || kids[0].Key != "items" || kids[0].Value != nil {
		t.Fatalf("unexpected branch children: %+v", kids)
	}
}

func TestMemoryServerTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetNow(func() time.Time { return fixed })

	store.Write(ctx, "categories/c1", map[string]any{"name": "Sports", "createdAt": ServerTimestamp})

	value, _, _ := store.ReadOnce(ctx, "categories/c1")
	stamp, ok := value["createdAt"].(int64)
	if !ok {
		t.Fatalf("createdAt = %T(%v), want int64", value["createdAt"], value["createdAt"])
	}
	if stamp != fixed.UnixMilli() {
		t.Errorf("createdAt = %d, want %d", stamp, fixed.UnixMilli())
	}
}

func TestMemorySubscribe(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	store.Write(ctx, "transactions/pending/t1", map[string]any{"itemName": "Bike"})

	sub, err := store.Subscribe(ctx, "transactions/pending", "createdAt")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	first := <-sub.Events()
	if first.Type != EventSnapshot || len(first.Children) != 1 {
		t.Fatalf("expected snapshot with 1 child, got %+v", first)
	}

	store.Write(ctx, "transactions/pending/t2", map[string]any{"itemName": "Lamp"})
	ev := <-sub.Events()
	if ev.Type != EventPut || ev.Key != "t2" || ev.Value["itemName"] != "Lamp" {
		t.Fatalf("unexpected put event: %+v", ev)
	}

	store.Delete(ctx, "transactions/pending/t1")
	ev = <-sub.Events()
	if ev.Type != EventDelete || ev.Key != "t1" {
		t.Fatalf("unexpected delete event: %+v", ev)
	}

	// Writes outside the watched path are not delivered.
	store.Write(ctx, "transactions/completed/t9", map[string]any{"itemName": "Desk"})
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event for sibling path: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	sub.Close()
	if _, open := <-sub.Events(); open {
		t.Error("events channel still open after Close")
	}
}

func TestMemorySubscribeContextCancel(t *testing.T) {
	store := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := store.Subscribe(ctx, "categories", "name")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-sub.Events() // snapshot

	cancel()
	select {
	case _, open := <-sub.Events():
		if open {
			t.Error("expected channel close after context cancel")
		}
	case <-time.After(time.Second):
		t.Error("subscription not closed after context cancel")
	}
}
