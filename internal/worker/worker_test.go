package worker

import (
	"context"
	"errors"
	"testing"

	"marketplace-orders/internal/delayq"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePayments struct {
	results   []service.PaymentResult
	checks    []string
	recordErr error
	checkErr  error
	order     *models.Order
}

func (f *fakePayments) RecordPaymentResult(ctx context.Context, result service.PaymentResult) error {
	f.results = append(f.results, result)
	return f.recordErr
}

func (f *fakePayments) CheckPaymentStatus(ctx context.Context, orderID string) (*models.Order, error) {
	f.checks = append(f.checks, orderID)
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.order, nil
}

func paymentEvent(id string) *models.PaymentResultEvent {
	return &models.PaymentResultEvent{
		BaseEvent:  models.BaseEvent{EventID: id},
		OrderID:    "o1",
		PaymentRef: "ref-1",
	}
}

func TestPaymentSuccessRecordsAndChecks(t *testing.T) {
	payments := &fakePayments{order: &models.Order{ID: "o1", Status: models.StatusPaid}}
	w := &PaymentWorker{payments: payments, logger: zap.NewNop()}

	require.NoError(t, w.handlePaymentResult(context.Background(), models.EventTypePaymentSuccess, paymentEvent("e1")))

	require.Len(t, payments.results, 1)
	assert.Equal(t, "paid", payments.results[0].Status)
	assert.Equal(t, "ref-1", payments.results[0].ProviderRef)
	assert.Equal(t, "e1", payments.results[0].EventID)
	assert.Equal(t, []string{"o1"}, payments.checks)
}

func TestPaymentFailureSkipsCheck(t *testing.T) {
	payments := &fakePayments{}
	w := &PaymentWorker{payments: payments, logger: zap.NewNop()}

	require.NoError(t, w.handlePaymentResult(context.Background(), models.EventTypePaymentFailed, paymentEvent("e2")))

	require.Len(t, payments.results, 1)
	assert.Equal(t, "failed", payments.results[0].Status)
	assert.Empty(t, payments.checks)
}

func TestPaymentRecordErrorIsReturned(t *testing.T) {
	payments := &fakePayments{recordErr: errors.New("db down")}
	w := &PaymentWorker{payments: payments, logger: zap.NewNop()}

	err := w.handlePaymentResult(context.Background(), models.EventTypePaymentSuccess, paymentEvent("e3"))
	assert.ErrorContains(t, err, "db down")
	assert.Empty(t, payments.checks)
}

func TestPaymentForUnknownOrderIsDropped(t *testing.T) {
	payments := &fakePayments{recordErr: models.ErrOrderNotFound}
	w := &PaymentWorker{payments: payments, logger: zap.NewNop()}

	assert.NoError(t, w.handlePaymentResult(context.Background(), models.EventTypePaymentSuccess, paymentEvent("e5")))
	assert.Len(t, payments.results, 1)
	assert.Empty(t, payments.checks)
}

func TestPaymentCheckErrorDoesNotRedeliver(t *testing.T) {
	payments := &fakePayments{checkErr: errors.New("timeout")}
	w := &PaymentWorker{payments: payments, logger: zap.NewNop()}

	assert.NoError(t, w.handlePaymentResult(context.Background(), models.EventTypePaymentSuccess, paymentEvent("e4")))
}

func TestRecheck(t *testing.T) {
	payments := &fakePayments{order: &models.Order{ID: "o1", Status: models.StatusPendingPayment}}
	w := &RecheckWorker{payments: payments, logger: zap.NewNop()}

	require.NoError(t, w.handleRecheck(context.Background(), delayq.RecheckMessage{OrderID: "o1"}))
	assert.Equal(t, []string{"o1"}, payments.checks)

	payments.checkErr = models.ErrOrderNotFound
	err := w.handleRecheck(context.Background(), delayq.RecheckMessage{OrderID: "o2"})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
