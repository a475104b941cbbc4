package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/redisclient"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const idempotencyTTL = 24 * time.Hour

// OrderService turns a buyer's cart into a draft order
type OrderService struct {
	repo     store.Repository
	redis    *redisclient.Client
	ledger   *StockLedger
	dispatch *dispatcher
	validate *validator.Validate
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	repo store.Repository,
	redis *redisclient.Client,
	ledger *StockLedger,
	notifier Notifier,
	opts Options,
) *OrderService {
	return &OrderService{
		repo:     repo,
		redis:    redis,
		ledger:   ledger,
		dispatch: newDispatcher(notifier, opts.NotifyTimeout),
		validate: newValidator(),
		lockTTL:  opts.lockTTL(),
		logger:   util.Component("order-builder"),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	BuyerID         string                 `json:"buyer_id" validate:"required"`
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
	PhoneNumber     string                 `json:"phone_number" validate:"required,phone"`
	Notes           string                 `json:"notes" validate:"max=500"`
	IdempotencyKey  string                 `json:"idempotency_key,omitempty" validate:"max=100"`
}

type pendingLine struct {
	productID string
	sellerID  string
	quantity  int
}

// CreateOrder builds a draft order from the buyer's cart. Stock for every line is
// taken in one transaction; if any line cannot be satisfied nothing is taken.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, validationError(err)
	}

	if existing, err := s.findIdempotent(ctx, req); err != nil || existing != nil {
		return existing, err
	}

	lockKey := "checkout:" + req.BuyerID
	token, ok, err := s.redis.AcquireLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire checkout lock: %w", err)
	}
	if !ok {
		util.OrdersFailedTotal.WithLabelValues("checkout_in_progress").Inc()
		return nil, models.ErrCheckoutInProgress
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.redis.ReleaseLock(releaseCtx, lockKey, token); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.String("buyer_id", req.BuyerID), zap.Error(err))
		}
	}()

	// A retry may have finished while we waited for the lock.
	if existing, err := s.findIdempotent(ctx, req); err != nil || existing != nil {
		return existing, err
	}

	lines, err := s.cartLines(ctx, req.BuyerID)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	order := &models.Order{
		ID:              uuid.New().String(),
		BuyerID:         req.BuyerID,
		ShippingAddress: req.ShippingAddress,
		PhoneNumber:     req.PhoneNumber,
		Notes:           req.Notes,
		Status:          models.StatusDraft,
		PaymentStatus:   models.PaymentUnpaid,
		IdempotencyKey:  req.IdempotencyKey,
	}

	start := time.Now()
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		return s.buildOrder(ctx, tx, order, lines)
	})
	util.StockDecrementLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		s.logger.Info("Order rejected", zap.String("buyer_id", req.BuyerID), zap.Error(err))
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("buyer_id", order.BuyerID),
		zap.String("total", order.TotalAmount.String()))

	s.afterCreate(ctx, order)
	return order, nil
}

// buildOrder runs inside the order transaction.
func (s *OrderService) buildOrder(ctx context.Context, tx store.Tx, order *models.Order, lines []pendingLine) error {
	productOrders := make([]models.ProductOrder, 0, len(lines))
	total := decimal.Zero

	for _, line := range lines {
		product, err := tx.GetProduct(ctx, line.productID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return fmt.Errorf("%w: %s", models.ErrProductNotFound, product.ID)
		}
		if product.SellerID == order.BuyerID {
			return fmt.Errorf("product %s: %w", product.ID, models.ErrCannotBuyOwnProduct)
		}

		qty := decimal.NewFromInt(int64(line.quantity))
		po := models.ProductOrder{
			ID:         uuid.New().String(),
			OrderID:    order.ID,
			ProductID:  product.ID,
			SellerID:   product.SellerID,
			BuyerID:    order.BuyerID,
			Quantity:   line.quantity,
			UnitPrice:  product.Price,
			TotalPrice: product.Price.Mul(qty),
			Status:     models.StatusDraft,
		}
		total = total.Add(po.TotalPrice)
		productOrders = append(productOrders, po)
	}

	order.TotalAmount = total
	if err := tx.CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range productOrders {
		po := &productOrders[i]
		if err := tx.CreateProductOrder(ctx, po); err != nil {
			return fmt.Errorf("failed to create product order: %w", err)
		}
		if err := s.ledger.Decrement(ctx, tx, po); err != nil {
			return err
		}
	}

	order.ProductOrders = productOrders
	return nil
}

// cartLines reads the cart and orders its lines by seller then product.
func (s *OrderService) cartLines(ctx context.Context, buyerID string) ([]pendingLine, error) {
	quantities, err := s.redis.CartQuantities(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	if len(quantities) == 0 {
		return nil, models.ErrEmptyCart
	}

	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	sellers := make(map[string]string, len(products))
	for _, p := range products {
		sellers[p.ID] = p.SellerID
	}

	lines := make([]pendingLine, 0, len(ids))
	for _, id := range ids {
		sellerID, ok := sellers[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, id)
		}
		lines = append(lines, pendingLine{productID: id, sellerID: sellerID, quantity: quantities[id]})
	}

	sort.Slice(lines, func(i, j int) bool {
		if lines[i].sellerID != lines[j].sellerID {
			return lines[i].sellerID < lines[j].sellerID
		}
		return lines[i].productID < lines[j].productID
	})
	return lines, nil
}

func (s *OrderService) afterCreate(ctx context.Context, order *models.Order) {
	consumed := make(map[string]int, len(order.ProductOrders))
	for _, po := range order.ProductOrders {
		consumed[po.ProductID] += po.Quantity
	}
	if err := s.redis.ConsumeCartItems(ctx, order.BuyerID, consumed); err != nil {
		s.logger.Error("Failed to clear consumed cart lines", zap.String("order_id", order.ID), zap.Error(err))
	}

	if order.IdempotencyKey != "" {
		key := idempotencyRedisKey(order.BuyerID, order.IdempotencyKey)
		if err := s.redis.SetIdempotencyKey(ctx, key, order.ID, idempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	items := make([]models.OrderItemData, 0, len(order.ProductOrders))
	bySeller := make(map[string][]models.OrderItemData)
	for _, po := range order.ProductOrders {
		items = append(items, itemData(po))
		bySeller[po.SellerID] = append(bySeller[po.SellerID], itemData(po))
	}

	placed := &models.OrderPlacedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderPlaced),
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		TotalAmount: order.TotalAmount,
		Items:       items,
	}
	s.dispatch.send(models.EventTypeOrderPlaced, order.ID, func(ctx context.Context, n Notifier) error {
		return n.PublishOrderPlaced(ctx, placed)
	})

	for _, sellerID := range sellerIDs(order) {
		received := &models.OrderReceivedEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderReceived),
			OrderID:   order.ID,
			SellerID:  sellerID,
			BuyerID:   order.BuyerID,
			Items:     bySeller[sellerID],
		}
		s.dispatch.send(models.EventTypeOrderReceived, order.ID, func(ctx context.Context, n Notifier) error {
			return n.PublishOrderReceived(ctx, received)
		})
	}
}

// findIdempotent returns the order already created with the request's key, if any.
func (s *OrderService) findIdempotent(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	if req.IdempotencyKey == "" {
		return nil, nil
	}

	cached, err := s.redis.GetIdempotencyKey(ctx, idempotencyRedisKey(req.BuyerID, req.IdempotencyKey))
	if err != nil {
		s.logger.Warn("Idempotency cache lookup failed", zap.Error(err))
	}
	if cached != "" {
		order, err := s.repo.GetOrder(ctx, cached)
		if err == nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", order.ID))
			return order, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	order, err := s.repo.GetOrderByIdempotencyKey(ctx, req.BuyerID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if order != nil {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("order_id", order.ID))
	}
	return order, nil
}

func idempotencyRedisKey(buyerID, key string) string {
	return fmt.Sprintf("order:%s:%s", buyerID, key)
}

// GetOrder retrieves an order with its product orders
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// GetOrderHistory returns the audit trail of an order
func (s *OrderService) GetOrderHistory(ctx context.Context, orderID string) ([]models.StatusChange, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListStatusChanges(ctx, orderID)
}

// Wait blocks until background notifications have been handed off.
func (s *OrderService) Wait() {
	s.dispatch.wait()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrCannotBuyOwnProduct):
		return "own_product"
	case errors.Is(err, models.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, models.ErrNotFound):
		return "product_not_found"
	default:
		return "internal"
	}
}
