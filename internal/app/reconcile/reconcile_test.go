package reconcile

import (
	"context"
	"testing"

	"github.com/tradeit-market/tradeit/internal/app/domain/market"
	"github.com/tradeit-market/tradeit/internal/app/services/categories"
	"github.com/tradeit-market/tradeit/internal/app/services/items"
	"github.com/tradeit-market/tradeit/internal/app/services/transactions"
	"github.com/tradeit-market/tradeit/internal/treestore"
)

func seedListing(t *testing.T, store *treestore.Memory) (market.Category, market.Item) {
	t.Helper()
	ctx := context.Background()
	cat, err := categories.New(store, nil).Create(ctx, "admin", "Sports")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	item, err := items.New(store, nil).Post(ctx, "seller", cat.ID, "Bike", "10")
	if err != nil {
		t.Fatalf("post item: %v", err)
	}
	return cat, item
}

func TestRunCleanLedger(t *testing.T) {
	store := treestore.NewMemory()
	seedListing(t, store)

	report, err := NewSweeper(store, "", nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Total() != 0 {
		t.Fatalf("expected clean sweep, got %+v", report)
	}
}

func TestRunRestoresMissingMirror(t *testing.T) {
	store := treestore.NewMemory()
	_, item := seedListing(t, store)
	ctx := context.Background()

	// Simulate a crash between the category write and the mirror write.
	if err := store.Delete(ctx, items.MirrorPath("seller", item.ID)); err != nil {
		t.Fatalf("drop mirror: %v", err)
	}

	report, err := NewSweeper(store, "", nil).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.MirrorsMissing != 1 {
		t.Fatalf("report = %+v", report)
	}
	if _, ok, _ := store.ReadOnce(ctx, items.MirrorPath("seller", item.ID)); !ok {
		t.Fatalf("mirror not restored")
	}
}

func TestRunRepairsDivergedMirror(t *testing.T) {
	store := treestore.NewMemory()
	_, item := seedListing(t, store)
	ctx := context.Background()

	if err := store.Update(ctx, items.MirrorPath("seller", item.ID), map[string]any{
		market.FieldPrice: "999",
	}); err != nil {
		t.Fatalf("corrupt mirror: %v", err)
	}

	report, err := NewSweeper(store, "", nil).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.MirrorsDiverged != 1 {
		t.Fatalf("report = %+v", report)
	}
	mirror, _, _ := store.ReadOnce(ctx, items.MirrorPath("seller", item.ID))
	if mirror[market.FieldPrice] != "10" {
		t.Fatalf("mirror price = %v after repair", mirror[market.FieldPrice])
	}
}

func TestRunDropsOrphanedMirror(t *testing.T) {
	store := treestore.NewMemory()
	cat, item := seedListing(t, store)
	ctx := context.Background()

	// Simulate a crash between the category delete and the mirror delete.
	if err := store.Delete(ctx, items.CategoryPath(cat.ID, item.ID)); err != nil {
		t.Fatalf("drop listing: %v", err)
	}

	report, err := NewSweeper(store, "", nil).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.OrphanedMirrors != 1 {
		t.Fatalf("report = %+v", report)
	}
	if _, ok, _ := store.ReadOnce(ctx, items.MirrorPath("seller", item.ID)); ok {
		t.Fatalf("orphaned mirror survived")
	}
}

func TestRunFinishesHalfPromotion(t *testing.T) {
	store := treestore.NewMemory()
	cat, item := seedListing(t, store)
	ctx := context.Background()

	itemSvc := items.New(store, nil)
	txns := transactions.New(store, itemSvc, nil)
	tx, err := txns.InitiateAcquisition(ctx, "buyer", cat.ID, item.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// Simulate a crash between the completed write and the pending
	// delete by writing the completed record manually.
	pendingFields, _, _ := store.ReadOnce(ctx, transactions.PendingPath+"/"+tx.ID)
	pendingFields[market.FieldCompletedAt] = treestore.ServerTimestamp
	if err := store.Write(ctx, transactions.CompletedPath+"/"+tx.ID, pendingFields); err != nil {
		t.Fatalf("write completed: %v", err)
	}

	report, err := NewSweeper(store, "", nil).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.HalfPromoted != 1 {
		t.Fatalf("report = %+v", report)
	}
	if _, ok, _ := store.ReadOnce(ctx, transactions.PendingPath+"/"+tx.ID); ok {
		t.Fatalf("pending leftover survived")
	}
	if _, ok, _ := store.ReadOnce(ctx, transactions.CompletedPath+"/"+tx.ID); !ok {
		t.Fatalf("completed record missing")
	}

	// LastReport reflects the most recent sweep.
	sweeper := NewSweeper(store, "", nil)
	if _, ok := sweeper.LastReport(); ok {
		t.Fatalf("fresh sweeper should have no report")
	}
	if _, err := sweeper.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if last, ok := sweeper.LastReport(); !ok || last.Total() != 0 {
		t.Fatalf("last report = %+v ok=%v", last, ok)
	}
}
