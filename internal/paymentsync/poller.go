package paymentsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/util"

	"go.uber.org/zap"
)

// StatusChecker runs one synchronizer tick for an order.
type StatusChecker interface {
	CheckPaymentStatus(ctx context.Context, orderID string) (*models.Order, error)
}

// Outcome says why polling stopped.
type Outcome string

const (
	OutcomePaid                 Outcome = "paid"
	OutcomeTimedOut             Outcome = "timed_out"
	OutcomeErrorBudgetExhausted Outcome = "error_budget_exhausted"
	OutcomeTerminal             Outcome = "terminal"
	OutcomeNotCheckedOut        Outcome = "not_checked_out"
)

// Result is the last observed order and the reason polling ended.
type Result struct {
	Outcome  Outcome
	Order    *models.Order
	Attempts int
}

// Message is the text shown to a buyer for the outcome.
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomePaid:
		return "payment confirmed"
	case OutcomeTerminal:
		return "order is no longer awaiting payment"
	case OutcomeNotCheckedOut:
		return "order has not been checked out"
	default:
		return "pending - check later"
	}
}

// Config bounds a polling session.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	ErrorBudget int
}

// DefaultConfig polls every 5s for up to 5 minutes.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, MaxAttempts: 60, ErrorBudget: 5}
}

// Poller repeatedly checks an order until it is paid or a bound is hit.
type Poller struct {
	checker StatusChecker
	cfg     Config
	logger  *zap.Logger
}

// NewPoller creates a poller. Zero config fields take the defaults.
func NewPoller(checker StatusChecker, cfg Config) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ErrorBudget <= 0 {
		cfg.ErrorBudget = def.ErrorBudget
	}
	return &Poller{checker: checker, cfg: cfg, logger: util.Component("payment-poller")}
}

// Poll blocks until the order is paid, is found still in draft, leaves pending_payment, runs out of attempts
// or transient-error budget, or ctx is done. Transient errors only count against the
// budget while they are consecutive; any other error ends polling immediately.
// A timeout is not a failure: the order stays pending_payment.
func (p *Poller) Poll(ctx context.Context, orderID string) (Result, error) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var (
		last        *models.Order
		consecutive int
	)
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		order, err := p.checker.CheckPaymentStatus(ctx, orderID)
		switch {
		case err == nil:
			consecutive = 0
			last = order
			if order.Status.Stage() >= models.StatusPaid.Stage() {
				return Result{Outcome: OutcomePaid, Order: order, Attempts: attempt}, nil
			}
			if order.Status == models.StatusDraft {
				return Result{Outcome: OutcomeNotCheckedOut, Order: order, Attempts: attempt}, nil
			}
			if order.Status != models.StatusPendingPayment {
				return Result{Outcome: OutcomeTerminal, Order: order, Attempts: attempt}, nil
			}
		case errors.Is(err, models.ErrTransientNetwork):
			consecutive++
			p.logger.Warn("Transient error while polling payment",
				zap.String("order_id", orderID),
				zap.Int("attempt", attempt),
				zap.Int("consecutive", consecutive),
				zap.Error(err))
			if consecutive >= p.cfg.ErrorBudget {
				return Result{Outcome: OutcomeErrorBudgetExhausted, Order: last, Attempts: attempt}, nil
			}
		default:
			return Result{Order: last, Attempts: attempt}, fmt.Errorf("payment check failed: %w", err)
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Result{Order: last, Attempts: attempt}, ctx.Err()
		case <-ticker.C:
		}
	}

	p.logger.Info("Payment polling timed out",
		zap.String("order_id", orderID),
		zap.Int("attempts", p.cfg.MaxAttempts))
	return Result{Outcome: OutcomeTimedOut, Order: last, Attempts: p.cfg.MaxAttempts}, nil
}
