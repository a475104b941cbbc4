package paymentsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketplace-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedChecker struct {
	mu    sync.Mutex
	calls int
	steps []func() (*models.Order, error)
}

func (c *scriptedChecker) CheckPaymentStatus(ctx context.Context, orderID string) (*models.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	return c.steps[i]()
}

func pending() (*models.Order, error) {
	return &models.Order{ID: "o1", Status: models.StatusPendingPayment, PaymentStatus: models.PaymentUnpaid}, nil
}

func paid() (*models.Order, error) {
	return &models.Order{ID: "o1", Status: models.StatusPaid, PaymentStatus: models.PaymentPaid}, nil
}

func transient() (*models.Order, error) {
	return nil, fmt.Errorf("dial tcp: %w", models.ErrTransientNetwork)
}

var fast = Config{Interval: time.Millisecond, MaxAttempts: 60, ErrorBudget: 5}

func TestPollStopsWhenPaid(t *testing.T) {
	checker := &scriptedChecker{steps: []func() (*models.Order, error){pending, pending, paid}}

	res, err := NewPoller(checker, fast).Poll(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "payment confirmed", res.Message())
}

func TestPollTimesOutLeavingOrderPending(t *testing.T) {
	checker := &scriptedChecker{steps: []func() (*models.Order, error){pending}}

	res, err := NewPoller(checker, fast).Poll(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, 60, checker.calls)
	assert.Equal(t, models.StatusPendingPayment, res.Order.Status)
	assert.Equal(t, models.PaymentUnpaid, res.Order.PaymentStatus)
	assert.Equal(t, "pending - check later", res.Message())
}

func TestPollErrorBudgetCountsConsecutiveFailures(t *testing.T) {
	steps := []func() (*models.Order, error){
		transient, transient, transient, transient, pending,
		transient, transient, transient, transient, transient,
	}
	checker := &scriptedChecker{steps: steps}

	res, err := NewPoller(checker, fast).Poll(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeErrorBudgetExhausted, res.Outcome)
	assert.Equal(t, 10, res.Attempts)
	require.NotNil(t, res.Order)
}

func TestPollStopsOnPermanentError(t *testing.T) {
	checker := &scriptedChecker{steps: []func() (*models.Order, error){
		func() (*models.Order, error) { return nil, models.ErrOrderNotFound },
	}}

	_, err := NewPoller(checker, fast).Poll(context.Background(), "o1")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Equal(t, 1, checker.calls)
}

func TestPollStopsOnCancelledOrder(t *testing.T) {
	checker := &scriptedChecker{steps: []func() (*models.Order, error){
		pending,
		func() (*models.Order, error) { return &models.Order{ID: "o1", Status: models.StatusCancelled}, nil },
	}}

	res, err := NewPoller(checker, fast).Poll(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTerminal, res.Outcome)
}

func TestPollReportsDraftOrder(t *testing.T) {
	checker := &scriptedChecker{steps: []func() (*models.Order, error){
		func() (*models.Order, error) { return &models.Order{ID: "o1", Status: models.StatusDraft}, nil },
	}}

	res, err := NewPoller(checker, fast).Poll(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotCheckedOut, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "order has not been checked out", res.Message())
}

func TestPollHonoursContext(t *testing.T) {
	checker := &scriptedChecker{steps: []func() (*models.Order, error){pending}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPoller(checker, Config{Interval: time.Hour}).Poll(ctx, "o1")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, checker.calls)
}
