package policy

import (
	"testing"

	"github.com/tradeit-market/tradeit/internal/app/domain/market"
)

func TestPredicates(t *testing.T) {
	cat := market.Category{ID: "c1", CreatorID: "uidA"}
	if !CanEditCategory(cat, "uidA") {
		t.Error("creator should edit category")
	}
	if CanEditCategory(cat, "uidB") {
		t.Error("non-creator must not edit category")
	}

	item := market.Item{ID: "i1", PosterID: "uidA"}
	if !CanEditItem(item, "uidA") || CanEditItem(item, "uidC") {
		t.Error("item edit predicate wrong")
	}

	tx := market.PendingTransaction{BuyerID: "uidB", SellerID: "uidA"}
	if !CanConfirm(tx, "uidA") {
		t.Error("seller should confirm")
	}
	if CanConfirm(tx, "uidB") {
		t.Error("buyer must not confirm")
	}
	if !IsParticipant(tx, "uidA") || !IsParticipant(tx, "uidB") || IsParticipant(tx, "uidC") {
		t.Error("participant predicate wrong")
	}
}
