// Package market defines the records traded between users: categories,
// items, and the pending/completed transaction pair that carries an item
// through its acquisition lifecycle.
package market

import (
	"strings"
	"time"
)

// FreePrice is the sentinel price meaning "no charge". Blank price input
// normalizes to it; anything else is kept as a numeric-as-string amount.
const FreePrice = "free"

// NormalizePrice maps empty or blank input to FreePrice and trims the rest.
func NormalizePrice(price string) string {
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return FreePrice
	}
	return trimmed
}

// IsFree reports whether the price is the free marker.
func IsFree(price string) bool {
	return strings.EqualFold(strings.TrimSpace(price), FreePrice)
}

// Category groups items for browsing. Only the creator may rename or
// delete it, and deletion requires the item collection to be empty.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatorID string    `json:"creatorId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Item is a listing posted by a user. The same record is stored twice,
// under its category and under its poster, sharing one ID; both copies
// must agree on every field.
type Item struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Price      string    `json:"price"`
	CategoryID string    `json:"categoryId"`
	PosterID   string    `json:"posterId"`
	PostedAt   time.Time `json:"postedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PendingTransaction is the point-in-time snapshot created when a buyer
// initiates acquisition of an item. It is never updated in place: it is
// either promoted to a CompletedTransaction or (in this design) nothing.
type PendingTransaction struct {
	ID         string    `json:"id"`
	BuyerID    string    `json:"buyerId"`
	SellerID   string    `json:"sellerId"`
	CategoryID string    `json:"categoryId"`
	ItemName   string    `json:"itemName"`
	Price      string    `json:"price"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CompletedTransaction is a promoted pending transaction. Immutable.
type CompletedTransaction struct {
	PendingTransaction
	CompletedAt time.Time `json:"completedAt"`
}

// Role is the side of a transaction a given viewer is on.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// RoleFor returns the viewer's role in the transaction. The caller must
// have established that the viewer is a participant.
func RoleFor(tx PendingTransaction, userID string) Role {
	if tx.BuyerID == userID {
		return RoleBuyer
	}
	return RoleSeller
}

// PendingView is a pending transaction annotated with the viewer's role.
type PendingView struct {
	PendingTransaction
	Role Role `json:"role"`
}
