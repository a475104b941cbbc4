package service

import (
	"context"
	"fmt"
	"sort"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/redisclient"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartService manages buyer carts. It never touches stock.
type CartService struct {
	repo   store.Repository
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo store.Repository, redis *redisclient.Client) *CartService {
	return &CartService{
		repo:   repo,
		redis:  redis,
		logger: util.Component("cart"),
	}
}

// AddItem adds qty of a product to the cart, clamped to the current stock.
func (s *CartService) AddItem(ctx context.Context, buyerID, productID string, qty int) (*models.Cart, error) {
	return s.write(ctx, buyerID, productID, qty, s.redis.AddCartItem)
}

// SetQuantity replaces the quantity of a cart line, clamped to the current stock.
func (s *CartService) SetQuantity(ctx context.Context, buyerID, productID string, qty int) (*models.Cart, error) {
	return s.write(ctx, buyerID, productID, qty, s.redis.SetCartItem)
}

type cartWrite func(ctx context.Context, buyerID, productID string, qty, maxQty int) (int, bool, error)

func (s *CartService) write(ctx context.Context, buyerID, productID string, qty int, apply cartWrite) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.write")
	defer span.End()

	if qty < 0 {
		return nil, fmt.Errorf("quantity %d: %w", qty, models.ErrInvalidQuantity)
	}
	if qty == 0 {
		return s.RemoveItem(ctx, buyerID, productID)
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}
	if product.SellerID == buyerID {
		return nil, fmt.Errorf("product %s: %w", productID, models.ErrCannotBuyOwnProduct)
	}

	stored, clamped, err := apply(ctx, buyerID, productID, qty, product.Stock)
	if err != nil {
		return nil, fmt.Errorf("failed to update cart: %w", err)
	}
	if clamped {
		s.logger.Info("Cart quantity clamped to stock",
			zap.String("buyer_id", buyerID),
			zap.String("product_id", productID),
			zap.Int("requested", qty),
			zap.Int("stored", stored))
	}

	cart, err := s.GetCart(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if clamped {
		for i := range cart.Items {
			if cart.Items[i].ProductID == productID {
				cart.Items[i].Clamped = true
			}
		}
	}
	return cart, nil
}

// RemoveItem deletes a line from the cart
func (s *CartService) RemoveItem(ctx context.Context, buyerID, productID string) (*models.Cart, error) {
	if err := s.redis.RemoveCartItem(ctx, buyerID, productID); err != nil {
		return nil, fmt.Errorf("failed to remove cart item: %w", err)
	}
	return s.GetCart(ctx, buyerID)
}

// Clear empties the cart
func (s *CartService) Clear(ctx context.Context, buyerID string) (*models.Cart, error) {
	if err := s.redis.ClearCart(ctx, buyerID); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}
	return &models.Cart{BuyerID: buyerID, Items: []models.CartLine{}, Subtotal: decimal.Zero}, nil
}

// GetCart returns the cart priced at current catalog prices. Lines whose product is
// gone or inactive are left out; quantities above stock are shown clamped.
func (s *CartService) GetCart(ctx context.Context, buyerID string) (*models.Cart, error) {
	quantities, err := s.redis.CartQuantities(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}

	cart := &models.Cart{BuyerID: buyerID, Items: []models.CartLine{}, Subtotal: decimal.Zero}
	if len(quantities) == 0 {
		return cart, nil
	}

	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	for _, p := range products {
		if !p.IsActive {
			continue
		}
		line := models.CartLine{
			ProductID: p.ID,
			Name:      p.Name,
			SellerID:  p.SellerID,
			Quantity:  quantities[p.ID],
			UnitPrice: p.Price,
			Stock:     p.Stock,
		}
		if line.Quantity > p.Stock {
			line.Quantity = p.Stock
			line.Clamped = true
		}
		if line.Quantity == 0 {
			continue
		}
		cart.Items = append(cart.Items, line)
		cart.Subtotal = cart.Subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	sort.Slice(cart.Items, func(i, j int) bool {
		if cart.Items[i].SellerID != cart.Items[j].SellerID {
			return cart.Items[i].SellerID < cart.Items[j].SellerID
		}
		return cart.Items[i].ProductID < cart.Items[j].ProductID
	})
	return cart, nil
}
