// Package items manages the dual-write item ledger: every listed item is
// persisted both under its category and under its poster's personal
// mirror, with identical fields in both copies.
package items

import (
	"context"
	"fmt"
	"strings"

	"github.com/tradeit-market/tradeit/internal/app/domain/market"
	"github.com/tradeit-market/tradeit/internal/app/metrics"
	"github.com/tradeit-market/tradeit/internal/app/services/categories"
	"github.com/tradeit-market/tradeit/internal/app/services/policy"
	"github.com/tradeit-market/tradeit/internal/treestore"
	"github.com/tradeit-market/tradeit/pkg/logger"
)

// Service manages item postings over the tree store.
type Service struct {
	store treestore.Store
	log   *logger.Logger
}

// New constructs an item service.
func New(store treestore.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("items")
	}
	return &Service{store: store, log: log}
}

// CategoryPath returns the storage path of an item's category copy.
func CategoryPath(categoryID, itemID string) string {
	return categories.ItemsPath(categoryID) + "/" + itemID
}

// MirrorBase returns the storage path of a user's personal item mirror.
func MirrorBase(posterID string) string {
	return "users/" + posterID + "/items"
}

// MirrorPath returns the storage path of an item's personal mirror copy.
func MirrorPath(posterID, itemID string) string {
	return MirrorBase(posterID) + "/" + itemID
}

// Post lists a new item in a category. The category copy is written
// first and read back so the mirror copy carries the exact same
// resolved fields. A crash between the two writes leaves the item
// visible in the category but absent from the poster's mirror; the
// reconciler repairs that direction.
func (s *Service) Post(ctx context.Context, posterID, categoryID, name, price string) (market.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return market.Item{}, &market.ValidationError{Field: market.FieldName, Reason: "must not be blank"}
	}
	if posterID == "" {
		return market.Item{}, &market.ValidationError{Field: market.FieldPosterID, Reason: "must not be blank"}
	}
	price = market.NormalizePrice(price)

	if _, ok, err := s.store.ReadOnce(ctx, categories.Path(categoryID)); err != nil {
		return market.Item{}, fmt.Errorf("post item: %w", err)
	} else if !ok {
		return market.Item{}, &market.NotFoundError{Kind: "category", ID: categoryID}
	}

	id := s.store.PushID(categories.ItemsPath(categoryID))
	fields := map[string]any{
		market.FieldID:         id,
		market.FieldName:       name,
		market.FieldPrice:      price,
		market.FieldPosterID:   posterID,
		market.FieldCategoryID: categoryID,
		market.FieldPostedAt:   treestore.ServerTimestamp,
		market.FieldUpdatedAt:  treestore.ServerTimestamp,
	}
	if err := s.store.Write(ctx, CategoryPath(categoryID, id), fields); err != nil {
		return market.Item{}, fmt.Errorf("post item: %w", err)
	}

	resolved, ok, err := s.store.ReadOnce(ctx, CategoryPath(categoryID, id))
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("item %s vanished after write", id)
		}
		return market.Item{}, fmt.Errorf("post item: %w", err)
	}
	if err := s.store.Write(ctx, MirrorPath(posterID, id), resolved); err != nil {
		// Category copy is live; the mirror catches up on the next
		// reconciliation sweep.
		s.log.WithError(err).
			WithField("item_id", id).
			WithField("poster_id", posterID).
			Warn("mirror write failed after category write")
		return market.Item{}, fmt.Errorf("post item mirror: %w", err)
	}

	metrics.RecordItemPosted()
	s.log.WithField("item_id", id).
		WithField("category_id", categoryID).
		WithField("poster_id", posterID).
		Info("item posted")
	return market.ItemFromFields(id, resolved), nil
}

// Get returns the category copy of an item.
func (s *Service) Get(ctx context.Context, categoryID, itemID string) (market.Item, error) {
	fields, ok, err := s.store.ReadOnce(ctx, CategoryPath(categoryID, itemID))
	if err != nil {
		return market.Item{}, fmt.Errorf("read item: %w", err)
	}
	if !ok {
		return market.Item{}, &market.NotFoundError{Kind: "item", ID: itemID}
	}
	return market.ItemFromFields(itemID, fields), nil
}

// List returns a category's items ordered by posting time, oldest first.
func (s *Service) List(ctx context.Context, categoryID string) ([]market.Item, error) {
	if _, ok, err := s.store.ReadOnce(ctx, categories.Path(categoryID)); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	} else if !ok {
		return nil, &market.NotFoundError{Kind: "category", ID: categoryID}
	}
	return s.list(ctx, categories.ItemsPath(categoryID))
}

// ListMine returns the caller's personal mirror ordered by posting time.
func (s *Service) ListMine(ctx context.Context, posterID string) ([]market.Item, error) {
	if posterID == "" {
		return nil, &market.ValidationError{Field: market.FieldPosterID, Reason: "must not be blank"}
	}
	return s.list(ctx, MirrorBase(posterID))
}

// Watch subscribes to a category's item collection.
func (s *Service) Watch(ctx context.Context, categoryID string) (*treestore.Subscription, error) {
	sub, err := s.store.Subscribe(ctx, categories.ItemsPath(categoryID), market.FieldPostedAt)
	if err != nil {
		return nil, fmt.Errorf("watch items: %w", err)
	}
	return sub, nil
}

// WatchMine subscribes to a user's personal item mirror.
func (s *Service) WatchMine(ctx context.Context, posterID string) (*treestore.Subscription, error) {
	sub, err := s.store.Subscribe(ctx, MirrorBase(posterID), market.FieldPostedAt)
	if err != nil {
		return nil, fmt.Errorf("watch mirror: %w", err)
	}
	return sub, nil
}

// Update changes an item's name or price in both copies. Only the
// poster may edit. The category copy is updated first; the mirror copy
// is then overwritten with the resolved category fields.
func (s *Service) Update(ctx context.Context, actorID, categoryID, itemID string, name, price *string) (market.Item, error) {
	item, err := s.Get(ctx, categoryID, itemID)
	if err != nil {
		return market.Item{}, err
	}
	if !policy.CanEditItem(item, actorID) {
		return market.Item{}, &market.AuthorizationError{ActorID: actorID, Action: "update item"}
	}

	patch := map[string]any{market.FieldUpdatedAt: treestore.ServerTimestamp}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return market.Item{}, &market.ValidationError{Field: market.FieldName, Reason: "must not be blank"}
		}
		patch[market.FieldName] = trimmed
	}
	if price != nil {
		patch[market.FieldPrice] = market.NormalizePrice(*price)
	}

	if err := s.store.Update(ctx, CategoryPath(categoryID, itemID), patch); err != nil {
		return market.Item{}, fmt.Errorf("update item: %w", err)
	}
	resolved, ok, err := s.store.ReadOnce(ctx, CategoryPath(categoryID, itemID))
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("item %s vanished after update", itemID)
		}
		return market.Item{}, fmt.Errorf("update item: %w", err)
	}
	if err := s.store.Write(ctx, MirrorPath(item.PosterID, itemID), resolved); err != nil {
		return market.Item{}, fmt.Errorf("update item mirror: %w", err)
	}

	s.log.WithField("item_id", itemID).
		WithField("actor_id", actorID).
		Info("item updated")
	return market.ItemFromFields(itemID, resolved), nil
}

// Delete withdraws a listing, removing both copies. Only the poster may
// delete. The category copy goes first so other shoppers stop seeing
// the item as soon as possible.
func (s *Service) Delete(ctx context.Context, actorID, categoryID, itemID string) error {
	item, err := s.Get(ctx, categoryID, itemID)
	if err != nil {
		return err
	}
	if !policy.CanEditItem(item, actorID) {
		return &market.AuthorizationError{ActorID: actorID, Action: "delete item"}
	}

	if err := s.RemoveFromCategory(ctx, categoryID, itemID); err != nil {
		return err
	}
	if err := s.RemoveFromMirror(ctx, item.PosterID, itemID); err != nil {
		return err
	}
	s.log.WithField("item_id", itemID).
		WithField("actor_id", actorID).
		Info("item deleted")
	return nil
}

// RemoveFromCategory deletes only the category copy of an item. Used by
// the transaction flow, which removes the two copies as separate steps.
func (s *Service) RemoveFromCategory(ctx context.Context, categoryID, itemID string) error {
	if err := s.store.Delete(ctx, CategoryPath(categoryID, itemID)); err != nil {
		return fmt.Errorf("remove category copy: %w", err)
	}
	return nil
}

// RemoveFromMirror deletes only the personal mirror copy of an item.
func (s *Service) RemoveFromMirror(ctx context.Context, posterID, itemID string) error {
	if err := s.store.Delete(ctx, MirrorPath(posterID, itemID)); err != nil {
		return fmt.Errorf("remove mirror copy: %w", err)
	}
	return nil
}

func (s *Service) list(ctx context.Context, path string) ([]market.Item, error) {
	nodes, err := s.store.Children(ctx, path, market.FieldPostedAt)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	out := make([]market.Item, 0, len(nodes))
	for _, node := range nodes {
		if node.Value == nil {
			continue
		}
		out = append(out, market.ItemFromFields(node.Key, node.Value))
	}
	return out, nil
}
