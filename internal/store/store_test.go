package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"marketplace-orders/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreFromDB(sqlx.NewDb(db, "postgres")), mock
}

var decrementSQL = regexp.QuoteMeta("UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1")

func TestTryDecrementStockSucceeds(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(decrementSQL).
		WithArgs(2, "p1").
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(3))
	mock.ExpectCommit()

	var remaining int
	err := s.WithTx(context.Background(), func(tx Tx) error {
		var err error
		remaining, err = tx.TryDecrementStock(context.Background(), "p1", 2)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryDecrementStockInsufficientRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(decrementSQL).
		WithArgs(5, "p1").
		WillReturnRows(sqlmock.NewRows([]string{"stock"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT stock FROM products WHERE id = $1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(1))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.TryDecrementStock(context.Background(), "p1", 5)
		return err
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInsufficientStock))
	var stockErr *models.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryDecrementStockUnknownProduct(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(decrementSQL).
		WithArgs(1, "missing").
		WillReturnRows(sqlmock.NewRows([]string{"stock"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT stock FROM products WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"stock"}))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.TryDecrementStock(context.Background(), "missing", 1)
		return err
	})

	assert.True(t, errors.Is(err, models.ErrProductNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreStockRejectsOverflow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2 AND stock + $1 <= $3")).
		WithArgs(10, "p1", 100).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.RestoreStock(context.Background(), "p1", 10, 100)
		return err
	})

	assert.True(t, errors.Is(err, models.ErrRestoreOverflow))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementRejectsNonPositiveQuantity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.TryDecrementStock(context.Background(), "p1", 0)
		return err
	})

	assert.True(t, errors.Is(err, models.ErrInvalidQuantity))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEventProcessedDetectsDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
		WithArgs("evt-1", models.EventTypePaymentSuccess).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var fresh bool
	err := s.WithTx(context.Background(), func(tx Tx) error {
		var err error
		fresh, err = tx.MarkEventProcessed(context.Background(), "evt-1", models.EventTypePaymentSuccess)
		return err
	})

	require.NoError(t, err)
	assert.False(t, fresh)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetOrder(context.Background(), "nope")
	assert.True(t, errors.Is(err, models.ErrOrderNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
