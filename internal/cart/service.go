package cart

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
)

type Store interface {
	Load(ctx context.Context, userID string) (*Cart, error)
	Upsert(ctx context.Context, userID string, it Item) error
	Delete(ctx context.Context, userID string, k Key) error
}

type ProductGetter interface {
	Get(ctx context.Context, id string) (catalog.Product, error)
}

type Service struct {
	Store   Store
	Catalog ProductGetter
}

func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	return s.Store.Load(ctx, userID)
}

// PutItem sets the quantity of a line, creating it when missing.
func (s *Service) PutItem(ctx context.Context, userID string, it Item) (*Cart, error) {
	if it.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	p, err := s.Catalog.Get(ctx, it.ProductID)
	if err != nil {
		return nil, err
	}
	if len(p.Stock) > 0 && !p.HasSize(it.Size) {
		return nil, fmt.Errorf("%w: %q", catalog.ErrUnknownSize, it.Size)
	}

	c, err := s.Store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	stored, _, err := c.Put(it)
	if err != nil {
		return nil, err
	}
	if err := s.Store.Upsert(ctx, userID, stored); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) RemoveItem(ctx context.Context, userID string, k Key) (*Cart, error) {
	c, err := s.Store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !c.Remove(k) {
		return nil, ErrItemNotFound
	}
	if err := s.Store.Delete(ctx, userID, k); err != nil {
		return nil, err
	}
	return c, nil
}
