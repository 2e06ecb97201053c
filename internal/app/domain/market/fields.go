package market

import "time"

// The hierarchical store persists loose field maps; the field names below
// are the on-disk contract shared with existing data and must not change.
//
//	/categories/{id}                 = { name, creatorId, createdAt, updatedAt? }
//	/categories/{id}/items/{itemId}  = { id, name, price, posterId, categoryId, postedAt, updatedAt? }
//	/users/{uid}/items/{itemId}      = same as the category copy
//	/transactions/pending/{txId}     = { buyerId, sellerId, categoryId, itemName, price, createdAt }
//	/transactions/completed/{txId}   = pending fields + completedAt
//
// Timestamps are stored as epoch milliseconds.

const (
	FieldName        = "name"
	FieldPrice       = "price"
	FieldCreatorID   = "creatorId"
	FieldPosterID    = "posterId"
	FieldCategoryID  = "categoryId"
	FieldBuyerID     = "buyerId"
	FieldSellerID    = "sellerId"
	FieldItemName    = "itemName"
	FieldID          = "id"
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
	FieldPostedAt    = "postedAt"
	FieldCompletedAt = "completedAt"
)

// FieldString extracts a string field, returning "" when absent.
func FieldString(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// FieldTime extracts an epoch-milliseconds field. JSON decoding may hand
// back float64 where the writer stored int64, so both are accepted.
func FieldTime(fields map[string]any, key string) time.Time {
	switch v := fields[key].(type) {
	case int64:
		return time.UnixMilli(v).UTC()
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	case int:
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Time{}
}

// TimeField renders a timestamp the way the store persists it.
func TimeField(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// CategoryFromFields builds a Category from its stored representation.
func CategoryFromFields(id string, fields map[string]any) Category {
	return Category{
		ID:        id,
		Name:      FieldString(fields, FieldName),
		CreatorID: FieldString(fields, FieldCreatorID),
		CreatedAt: FieldTime(fields, FieldCreatedAt),
		UpdatedAt: FieldTime(fields, FieldUpdatedAt),
	}
}

// ItemFromFields builds an Item from its stored representation.
func ItemFromFields(id string, fields map[string]any) Item {
	return Item{
		ID:         id,
		Name:       FieldString(fields, FieldName),
		Price:      FieldString(fields, FieldPrice),
		CategoryID: FieldString(fields, FieldCategoryID),
		PosterID:   FieldString(fields, FieldPosterID),
		PostedAt:   FieldTime(fields, FieldPostedAt),
		UpdatedAt:  FieldTime(fields, FieldUpdatedAt),
	}
}

// PendingFromFields builds a PendingTransaction from its stored
// representation.
func PendingFromFields(id string, fields map[string]any) PendingTransaction {
	return PendingTransaction{
		ID:         id,
		BuyerID:    FieldString(fields, FieldBuyerID),
		SellerID:   FieldString(fields, FieldSellerID),
		CategoryID: FieldString(fields, FieldCategoryID),
		ItemName:   FieldString(fields, FieldItemName),
		Price:      FieldString(fields, FieldPrice),
		CreatedAt:  FieldTime(fields, FieldCreatedAt),
	}
}

// CompletedFromFields builds a CompletedTransaction from its stored
// representation.
func CompletedFromFields(id string, fields map[string]any) CompletedTransaction {
	return CompletedTransaction{
		PendingTransaction: PendingFromFields(id, fields),
		CompletedAt:        FieldTime(fields, FieldCompletedAt),
	}
}
