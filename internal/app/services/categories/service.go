// Package categories manages the top-level category registry.
package categories

import (
	"context"
	"fmt"
	"strings"

	"github.com/tradeit-market/tradeit/internal/app/domain/market"
	"github.com/tradeit-market/tradeit/internal/app/metrics"
	"github.com/tradeit-market/tradeit/internal/app/services/policy"
	"github.com/tradeit-market/tradeit/internal/treestore"
	"github.com/tradeit-market/tradeit/pkg/logger"
)

const basePath = "categories"

// Service manages category lifecycle over the tree store.
type Service struct {
	store treestore.Store
	log   *logger.Logger
}

// New constructs a category service.
func New(store treestore.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("categories")
	}
	return &Service{store: store, log: log}
}

// Path returns the storage path of a category record.
func Path(categoryID string) string {
	return basePath + "/" + categoryID
}

// ItemsPath returns the storage path of a category's item collection.
func ItemsPath(categoryID string) string {
	return Path(categoryID) + "/" + "items"
}

// Create registers a new category owned by creatorID.
func (s *Service) Create(ctx context.Context, creatorID, name string) (market.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return market.Category{}, &market.ValidationError{Field: market.FieldName, Reason: "must not be blank"}
	}
	if creatorID == "" {
		return market.Category{}, &market.ValidationError{Field: market.FieldCreatorID, Reason: "must not be blank"}
	}

	id := s.store.PushID(basePath)
	fields := map[string]any{
		market.FieldName:      name,
		market.FieldCreatorID: creatorID,
		market.FieldCreatedAt: treestore.ServerTimestamp,
		market.FieldUpdatedAt: treestore.ServerTimestamp,
	}
	if err := s.store.Write(ctx, Path(id), fields); err != nil {
		return market.Category{}, fmt.Errorf("create category: %w", err)
	}

	category, err := s.get(ctx, id)
	if err != nil {
		return market.Category{}, err
	}
	metrics.RecordCategoryCreated()
	s.log.WithField("category_id", id).
		WithField("creator_id", creatorID).
		Info("category created")
	return category, nil
}

// Get returns a single category by id.
func (s *Service) Get(ctx context.Context, categoryID string) (market.Category, error) {
	return s.get(ctx, categoryID)
}

// List returns all categories ordered by name.
func (s *Service) List(ctx context.Context) ([]market.Category, error) {
	nodes, err := s.store.Children(ctx, basePath, market.FieldName)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]market.Category, 0, len(nodes))
	for _, node := range nodes {
		if node.Value == nil {
			continue
		}
		out = append(out, market.CategoryFromFields(node.Key, node.Value))
	}
	return out, nil
}

// Watch subscribes to the category collection ordered by name. Callers
// own the returned subscription and must close it.
func (s *Service) Watch(ctx context.Context) (*treestore.Subscription, error) {
	sub, err := s.store.Subscribe(ctx, basePath, market.FieldName)
	if err != nil {
		return nil, fmt.Errorf("watch categories: %w", err)
	}
	return sub, nil
}

// Rename changes a category's display name. Only the creator may rename.
func (s *Service) Rename(ctx context.Context, actorID, categoryID, name string) (market.Category, error) {
	category, err := s.get(ctx, categoryID)
	if err != nil {
		return market.Category{}, err
	}
	if !policy.CanEditCategory(category, actorID) {
		return market.Category{}, &market.AuthorizationError{ActorID: actorID, Action: "rename category"}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return market.Category{}, &market.ValidationError{Field: market.FieldName, Reason: "must not be blank"}
	}

	err = s.store.Update(ctx, Path(categoryID), map[string]any{
		market.FieldName:      name,
		market.FieldUpdatedAt: treestore.ServerTimestamp,
	})
	if err != nil {
		return market.Category{}, fmt.Errorf("rename category: %w", err)
	}

	category, err = s.get(ctx, categoryID)
	if err != nil {
		return market.Category{}, err
	}
	s.log.WithField("category_id", categoryID).
		WithField("actor_id", actorID).
		Info("category renamed")
	return category, nil
}

// Delete removes an empty category. Categories that still hold items are
// refused so listed inventory is never dropped as a side effect.
func (s *Service) Delete(ctx context.Context, actorID, categoryID string) error {
	category, err := s.get(ctx, categoryID)
	if err != nil {
		return err
	}
	if !policy.CanEditCategory(category, actorID) {
		return &market.AuthorizationError{ActorID: actorID, Action: "delete category"}
	}

	items, err := s.store.Children(ctx, ItemsPath(categoryID), "")
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	count := 0
	for _, node := range items {
		if node.Value != nil {
			count++
		}
	}
	if count > 0 {
		return &market.NotEmptyError{CategoryID: categoryID, ItemCount: count}
	}

	if err := s.store.Delete(ctx, Path(categoryID)); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	s.log.WithField("category_id", categoryID).
		WithField("actor_id", actorID).
		Info("category deleted")
	return nil
}

func (s *Service) get(ctx context.Context, categoryID string) (market.Category, error) {
	if categoryID == "" {
		return market.Category{}, &market.ValidationError{Field: market.FieldID, Reason: "must not be blank"}
	}
	fields, ok, err := s.store.ReadOnce(ctx, Path(categoryID))
	if err != nil {
		return market.Category{}, fmt.Errorf("read category: %w", err)
	}
	if !ok {
		return market.Category{}, &market.NotFoundError{Kind: "category", ID: categoryID}
	}
	return market.CategoryFromFields(categoryID, fields), nil
}
