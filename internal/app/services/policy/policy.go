// Package policy holds the ownership and visibility predicates evaluated
// before every mutating marketplace operation. All functions are pure.
package policy

import "github.com/tradeit-market/tradeit/internal/app/domain/market"

// CanEditCategory reports whether actorID may rename or delete the
// category.
func CanEditCategory(c market.Category, actorID string) bool {
	return c.CreatorID == actorID
}

// CanEditItem reports whether actorID may update or delete the item.
func CanEditItem(i market.Item, actorID string) bool {
	return i.PosterID == actorID
}

// CanConfirm reports whether actorID may confirm the pending transaction.
// Only the seller may confirm.
func CanConfirm(tx market.PendingTransaction, actorID string) bool {
	return tx.SellerID == actorID
}

// IsParticipant reports whether userID is the buyer or the seller of the
// transaction.
func IsParticipant(tx market.PendingTransaction, userID string) bool {
	return tx.BuyerID == userID || tx.SellerID == userID
}
