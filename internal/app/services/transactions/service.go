// Package transactions drives the pending-to-completed trade state
// machine. Every cross-path step is ordered so a crash mid-flow leaves a
// recoverable duplicate rather than a lost record.
package transactions

import (
	"context"
	"fmt"

	"github.com/tradeit-market/tradeit/internal/app/domain/market"
	"github.com/tradeit-market/tradeit/internal/app/metrics"
	"github.com/tradeit-market/tradeit/internal/app/services/items"
	"github.com/tradeit-market/tradeit/internal/app/services/policy"
	"github.com/tradeit-market/tradeit/internal/treestore"
	"github.com/tradeit-market/tradeit/pkg/logger"
)

const (
	// PendingPath is the collection of open trades awaiting seller
	// confirmation.
	PendingPath = "transactions/pending"
	// CompletedPath is the append-only collection of finished trades.
	CompletedPath = "transactions/completed"
)

// Service manages trade transactions over the tree store.
type Service struct {
	store treestore.Store
	items *items.Service
	log   *logger.Logger
}

// New constructs a transaction service.
func New(store treestore.Store, itemSvc *items.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("transactions")
	}
	return &Service{store: store, items: itemSvc, log: log}
}

// InitiateAcquisition opens a pending transaction for an item and
// removes the listing. The pending record is written before either item
// copy is deleted: if the flow dies partway the item may briefly exist
// both as a listing and as a pending trade, which the reconciler can
// resolve, whereas deleting first could lose the trade entirely.
func (s *Service) InitiateAcquisition(ctx context.Context, buyerID, categoryID, itemID string) (market.PendingTransaction, error) {
	if buyerID == "" {
		return market.PendingTransaction{}, &market.ValidationError{Field: market.FieldBuyerID, Reason: "must not be blank"}
	}
	item, err := s.items.Get(ctx, categoryID, itemID)
	if err != nil {
		return market.PendingTransaction{}, err
	}
	if buyerID == item.PosterID {
		return market.PendingTransaction{}, &market.AuthorizationError{ActorID: buyerID, Action: "acquire own item"}
	}

	txID := s.store.PushID(PendingPath)
	fields := map[string]any{
		market.FieldBuyerID:    buyerID,
		market.FieldSellerID:   item.PosterID,
		market.FieldCategoryID: categoryID,
		market.FieldItemName:   item.Name,
		market.FieldPrice:      item.Price,
		market.FieldCreatedAt:  treestore.ServerTimestamp,
	}
	if err := s.store.Write(ctx, PendingPath+"/"+txID, fields); err != nil {
		return market.PendingTransaction{}, fmt.Errorf("initiate acquisition: %w", err)
	}

	if err := s.items.RemoveFromCategory(ctx, categoryID, itemID); err != nil {
		s.log.WithError(err).
			WithField("transaction_id", txID).
			WithField("item_id", itemID).
			Warn("listing removal failed after pending write")
		return market.PendingTransaction{}, err
	}
	if err := s.items.RemoveFromMirror(ctx, item.PosterID, itemID); err != nil {
		s.log.WithError(err).
			WithField("transaction_id", txID).
			WithField("item_id", itemID).
			Warn("mirror removal failed after pending write")
		return market.PendingTransaction{}, err
	}

	resolved, ok, err := s.store.ReadOnce(ctx, PendingPath+"/"+txID)
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("pending transaction %s vanished after write", txID)
		}
		return market.PendingTransaction{}, fmt.Errorf("initiate acquisition: %w", err)
	}

	metrics.RecordAcquisitionInitiated()
	s.log.WithField("transaction_id", txID).
		WithField("buyer_id", buyerID).
		WithField("seller_id", item.PosterID).
		WithField("item_id", itemID).
		Info("acquisition initiated")
	return market.PendingFromFields(txID, resolved), nil
}

// GetPending returns one pending transaction visible to userID.
func (s *Service) GetPending(ctx context.Context, userID, txID string) (market.PendingView, error) {
	fields, ok, err := s.store.ReadOnce(ctx, PendingPath+"/"+txID)
	if err != nil {
		return market.PendingView{}, fmt.Errorf("read pending transaction: %w", err)
	}
	if !ok {
		return market.PendingView{}, &market.NotFoundError{Kind: "transaction", ID: txID}
	}
	tx := market.PendingFromFields(txID, fields)
	if !policy.IsParticipant(tx, userID) {
		return market.PendingView{}, &market.NotFoundError{Kind: "transaction", ID: txID}
	}
	return market.PendingView{PendingTransaction: tx, Role: market.RoleFor(tx, userID)}, nil
}

// ListPending returns the open trades userID participates in, annotated
// with the user's side of each, ordered oldest first.
func (s *Service) ListPending(ctx context.Context, userID string) ([]market.PendingView, error) {
	nodes, err := s.store.Children(ctx, PendingPath, market.FieldCreatedAt)
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	out := make([]market.PendingView, 0, len(nodes))
	for _, node := range nodes {
		if node.Value == nil {
			continue
		}
		tx := market.PendingFromFields(node.Key, node.Value)
		if !policy.IsParticipant(tx, userID) {
			continue
		}
		out = append(out, market.PendingView{PendingTransaction: tx, Role: market.RoleFor(tx, userID)})
	}
	return out, nil
}

// WatchPending subscribes to the pending collection. Events carry every
// pending trade; callers filter for the viewing user.
func (s *Service) WatchPending(ctx context.Context) (*treestore.Subscription, error) {
	sub, err := s.store.Subscribe(ctx, PendingPath, market.FieldCreatedAt)
	if err != nil {
		return nil, fmt.Errorf("watch pending transactions: %w", err)
	}
	return sub, nil
}

// Confirm promotes a pending transaction to completed. Only the seller
// may confirm. The completed record is written under the same id before
// the pending record is deleted, so a crash between the two leaves the
// trade present in both collections rather than in neither; the
// reconciler removes the leftover. Confirming twice reports the
// transaction as missing because the first confirmation already
// consumed the pending record.
func (s *Service) Confirm(ctx context.Context, actorID, txID string) (market.CompletedTransaction, error) {
	fields, ok, err := s.store.ReadOnce(ctx, PendingPath+"/"+txID)
	if err != nil {
		return market.CompletedTransaction{}, fmt.Errorf("confirm transaction: %w", err)
	}
	if !ok {
		return market.CompletedTransaction{}, &market.NotFoundError{Kind: "transaction", ID: txID}
	}
	tx := market.PendingFromFields(txID, fields)
	if !policy.CanConfirm(tx, actorID) {
		return market.CompletedTransaction{}, &market.AuthorizationError{ActorID: actorID, Action: "confirm transaction"}
	}

	completed := map[string]any{
		market.FieldBuyerID:     tx.BuyerID,
		market.FieldSellerID:    tx.SellerID,
		market.FieldCategoryID:  tx.CategoryID,
		market.FieldItemName:    tx.ItemName,
		market.FieldPrice:       tx.Price,
		market.FieldCreatedAt:   market.TimeField(tx.CreatedAt),
		market.FieldCompletedAt: treestore.ServerTimestamp,
	}
	if err := s.store.Write(ctx, CompletedPath+"/"+txID, completed); err != nil {
		return market.CompletedTransaction{}, fmt.Errorf("confirm transaction: %w", err)
	}
	if err := s.store.Delete(ctx, PendingPath+"/"+txID); err != nil {
		s.log.WithError(err).
			WithField("transaction_id", txID).
			Warn("pending removal failed after completed write")
		return market.CompletedTransaction{}, fmt.Errorf("confirm transaction: %w", err)
	}

	resolved, ok, err := s.store.ReadOnce(ctx, CompletedPath+"/"+txID)
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("completed transaction %s vanished after write", txID)
		}
		return market.CompletedTransaction{}, fmt.Errorf("confirm transaction: %w", err)
	}

	metrics.RecordTransactionCompleted()
	s.log.WithField("transaction_id", txID).
		WithField("seller_id", actorID).
		Info("transaction completed")
	return market.CompletedFromFields(txID, resolved), nil
}

// ListCompleted returns the finished trades userID participated in,
// ordered by completion time, oldest first.
func (s *Service) ListCompleted(ctx context.Context, userID string) ([]market.CompletedTransaction, error) {
	nodes, err := s.store.Children(ctx, CompletedPath, market.FieldCompletedAt)
	if err != nil {
		return nil, fmt.Errorf("list completed transactions: %w", err)
	}
	out := make([]market.CompletedTransaction, 0, len(nodes))
	for _, node := range nodes {
		if node.Value == nil {
			continue
		}
		tx := market.CompletedFromFields(node.Key, node.Value)
		if !policy.IsParticipant(tx.PendingTransaction, userID) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}
