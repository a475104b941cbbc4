package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace-orders/internal/models"
)

// Memory is an in-process Repository for local runs and tests. Stock counters are guarded
// per product and orders per order id; there is no store-wide lock on the write path.
type Memory struct {
	mu            sync.RWMutex
	products      map[string]*memProduct
	orders        map[string]*models.Order
	productOrders map[string]*models.ProductOrder
	orderLines    map[string][]string
	movements     map[string][]models.StockMovement
	changes       map[string][]models.StatusChange
	events        map[string]string
	idempotency   map[string]string
	changeSeq     int64

	orderLocks *keyedMutex
}

type memProduct struct {
	mu sync.Mutex
	p  models.Product
}

func NewMemory() *Memory {
	return &Memory{
		products:      make(map[string]*memProduct),
		orders:        make(map[string]*models.Order),
		productOrders: make(map[string]*models.ProductOrder),
		orderLines:    make(map[string][]string),
		movements:     make(map[string][]models.StockMovement),
		changes:       make(map[string][]models.StatusChange),
		events:        make(map[string]string),
		idempotency:   make(map[string]string),
		orderLocks:    newKeyedMutex(),
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) product(id string) (*memProduct, error) {
	m.mu.RLock()
	mp, ok := m.products[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, id)
	}
	return mp, nil
}

func (m *Memory) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	mp, err := m.product(id)
	if err != nil {
		return nil, err
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	p := mp.p
	return &p, nil
}

func (m *Memory) GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	products := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		p, err := m.GetProduct(ctx, id)
		if err != nil {
			continue
		}
		products = append(products, *p)
	}
	return products, nil
}

func (m *Memory) SaveProduct(ctx context.Context, p *models.Product) error {
	if p.Stock < 0 {
		return fmt.Errorf("product %s: %w", p.ID, models.ErrInvalidQuantity)
	}
	now := time.Now().UTC()

	m.mu.Lock()
	mp, ok := m.products[p.ID]
	if !ok {
		mp = &memProduct{}
		m.products[p.ID] = mp
	}
	m.mu.Unlock()

	mp.mu.Lock()
	defer mp.mu.Unlock()
	created := mp.p.CreatedAt
	if created.IsZero() {
		created = now
	}
	mp.p = *p
	mp.p.CreatedAt = created
	mp.p.UpdatedAt = now
	return nil
}

func (m *Memory) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadOrder(id)
}

// loadOrder copies an order and its lines; callers hold m.mu.
func (m *Memory) loadOrder(id string) (*models.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, id)
	}
	order := *o
	order.ProductOrders = make([]models.ProductOrder, 0, len(m.orderLines[id]))
	for _, poID := range m.orderLines[id] {
		order.ProductOrders = append(order.ProductOrders, *m.productOrders[poID])
	}
	sortProductOrders(order.ProductOrders)
	return &order, nil
}

func (m *Memory) GetOrderByIdempotencyKey(ctx context.Context, buyerID, key string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.idempotency[buyerID+"\x00"+key]
	if !ok {
		return nil, nil
	}
	return m.loadOrder(id)
}

func (m *Memory) GetProductOrder(ctx context.Context, id string) (*models.ProductOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	po, ok := m.productOrders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrProductOrderNotFound, id)
	}
	cp := *po
	return &cp, nil
}

func (m *Memory) ListStockMovements(ctx context.Context, orderID string) ([]models.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.StockMovement{}, m.movements[orderID]...), nil
}

func (m *Memory) ListStatusChanges(ctx context.Context, orderID string) ([]models.StatusChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.StatusChange{}, m.changes[orderID]...), nil
}

func (m *Memory) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[eventID]
	return ok, nil
}

// WithTx stages order writes until fn succeeds. Stock changes are applied immediately
// under the product lock and undone if fn fails, so a concurrent reader may briefly see
// a lower count but never a count that was not backed by a decrement.
func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		m:            m,
		orders:       make(map[string]*models.Order),
		lines:        make(map[string]*models.ProductOrder),
		lineOrder:    make(map[string][]string),
		events:       make(map[string]string),
		lockedOrders: make(map[string]bool),
	}
	defer tx.unlock()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return tx.commit()
}

type memTx struct {
	m            *Memory
	undo         []func()
	orders       map[string]*models.Order
	newOrders    []string
	lines        map[string]*models.ProductOrder
	lineOrder    map[string][]string
	movements    []models.StockMovement
	changes      []models.StatusChange
	events       map[string]string
	lockedOrders map[string]bool
}

func (t *memTx) lockOrder(id string) {
	if t.lockedOrders[id] {
		return
	}
	t.m.orderLocks.Lock(id)
	t.lockedOrders[id] = true
}

func (t *memTx) unlock() {
	for id := range t.lockedOrders {
		t.m.orderLocks.Unlock(id)
	}
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *memTx) commit() error {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range t.newOrders {
		o := t.orders[id]
		if o.IdempotencyKey != "" {
			key := o.BuyerID + "\x00" + o.IdempotencyKey
			if _, dup := m.idempotency[key]; dup {
				t.rollback()
				return fmt.Errorf("duplicate idempotency key %q for buyer %s", o.IdempotencyKey, o.BuyerID)
			}
			m.idempotency[key] = id
		}
	}
	for id, o := range t.orders {
		cp := *o
		cp.ProductOrders = nil
		cp.UpdatedAt = now
		m.orders[id] = &cp
	}
	for id, po := range t.lines {
		cp := *po
		m.productOrders[id] = &cp
	}
	for orderID, ids := range t.lineOrder {
		m.orderLines[orderID] = append(m.orderLines[orderID], ids...)
	}
	for _, mv := range t.movements {
		m.movements[mv.OrderID] = append(m.movements[mv.OrderID], mv)
	}
	for _, c := range t.changes {
		m.changeSeq++
		c.ID = m.changeSeq
		m.changes[c.OrderID] = append(m.changes[c.OrderID], c)
	}
	for id, typ := range t.events {
		m.events[id] = typ
	}
	return nil
}

func (t *memTx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return t.m.GetProduct(ctx, id)
}

func (t *memTx) TryDecrementStock(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("decrement %d of product %s: %w", qty, productID, models.ErrInvalidQuantity)
	}
	mp, err := t.m.product(productID)
	if err != nil {
		return 0, err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.p.Stock < qty {
		return 0, &models.InsufficientStockError{ProductID: productID, Requested: qty, Available: mp.p.Stock}
	}
	mp.p.Stock -= qty
	t.undo = append(t.undo, func() {
		mp.mu.Lock()
		mp.p.Stock += qty
		mp.mu.Unlock()
	})
	return mp.p.Stock, nil
}

func (t *memTx) RestoreStock(ctx context.Context, productID string, qty, maxStock int) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("restore %d of product %s: %w", qty, productID, models.ErrInvalidQuantity)
	}
	mp, err := t.m.product(productID)
	if err != nil {
		return 0, err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.p.Stock+qty > maxStock {
		return 0, fmt.Errorf("restore %d of product %s: %w", qty, productID, models.ErrRestoreOverflow)
	}
	mp.p.Stock += qty
	t.undo = append(t.undo, func() {
		mp.mu.Lock()
		mp.p.Stock -= qty
		mp.mu.Unlock()
	})
	return mp.p.Stock, nil
}

func (t *memTx) CreateOrder(ctx context.Context, order *models.Order) error {
	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	t.lockOrder(order.ID)
	cp := *order
	t.orders[order.ID] = &cp
	t.newOrders = append(t.newOrders, order.ID)
	return nil
}

func (t *memTx) CreateProductOrder(ctx context.Context, po *models.ProductOrder) error {
	now := time.Now().UTC()
	po.CreatedAt, po.UpdatedAt = now, now
	cp := *po
	t.lines[po.ID] = &cp
	t.lineOrder[po.OrderID] = append(t.lineOrder[po.OrderID], po.ID)
	return nil
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error) {
	t.lockOrder(id)

	var order models.Order
	if staged, ok := t.orders[id]; ok {
		order = *staged
	} else {
		t.m.mu.RLock()
		o, ok := t.m.orders[id]
		if !ok {
			t.m.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, id)
		}
		order = *o
		t.m.mu.RUnlock()
	}

	lines, err := t.orderLines(id)
	if err != nil {
		return nil, err
	}
	order.ProductOrders = lines
	return &order, nil
}

func (t *memTx) orderLines(orderID string) ([]models.ProductOrder, error) {
	t.m.mu.RLock()
	ids := append(append([]string{}, t.m.orderLines[orderID]...), t.lineOrder[orderID]...)
	lines := make([]models.ProductOrder, 0, len(ids))
	for _, id := range ids {
		if po, ok := t.lines[id]; ok {
			lines = append(lines, *po)
			continue
		}
		lines = append(lines, *t.m.productOrders[id])
	}
	t.m.mu.RUnlock()
	sortProductOrders(lines)
	return lines, nil
}

func (t *memTx) GetProductOrder(ctx context.Context, id string) (*models.ProductOrder, error) {
	if po, ok := t.lines[id]; ok {
		cp := *po
		return &cp, nil
	}
	return t.m.GetProductOrder(ctx, id)
}

func (t *memTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	if !t.lockedOrders[order.ID] {
		return fmt.Errorf("order %s updated without lock", order.ID)
	}
	order.UpdatedAt = time.Now().UTC()
	cp := *order
	cp.ProductOrders = nil
	t.orders[order.ID] = &cp
	return nil
}

func (t *memTx) UpdateProductOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	po, err := t.GetProductOrder(ctx, id)
	if err != nil {
		return err
	}
	po.Status = status
	po.UpdatedAt = time.Now().UTC()
	t.lines[id] = po
	return nil
}

func (t *memTx) RecordStockMovement(ctx context.Context, mv *models.StockMovement) error {
	mv.CreatedAt = time.Now().UTC()
	t.movements = append(t.movements, *mv)
	return nil
}

func (t *memTx) ListStockMovements(ctx context.Context, orderID string) ([]models.StockMovement, error) {
	committed, _ := t.m.ListStockMovements(ctx, orderID)
	for _, mv := range t.movements {
		if mv.OrderID == orderID {
			committed = append(committed, mv)
		}
	}
	return committed, nil
}

func (t *memTx) RecordStatusChange(ctx context.Context, c *models.StatusChange) error {
	c.CreatedAt = time.Now().UTC()
	t.changes = append(t.changes, *c)
	return nil
}

func (t *memTx) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	if _, ok := t.events[eventID]; ok {
		return false, nil
	}
	if done, _ := t.m.IsEventProcessed(ctx, eventID); done {
		return false, nil
	}
	t.events[eventID] = eventType
	return true, nil
}

func sortProductOrders(lines []models.ProductOrder) {
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].SellerID != lines[j].SellerID {
			return lines[i].SellerID < lines[j].SellerID
		}
		return lines[i].ProductID < lines[j].ProductID
	})
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()
	e.mu.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	e := k.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	e.mu.Unlock()
}
