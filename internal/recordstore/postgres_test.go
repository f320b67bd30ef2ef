package recordstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

func setupMockDB(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestUpdateOrderStatus(t *testing.T) {
	store, mock := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE orders SET status`).
		WithArgs("success", "abc123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UpdateOrderStatus(ctx, "abc123", domain.StatusSuccess))

	mock.ExpectExec(`UPDATE orders SET status`).
		WithArgs("cancel", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.UpdateOrderStatus(ctx, "missing", domain.StatusCancel)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderOwner(t *testing.T) {
	store, mock := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT user_id FROM orders`).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(42)))
	userID, ok, err := store.GetOrderOwner(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), userID)

	mock.ExpectQuery(`SELECT user_id FROM orders`).
		WithArgs("o2").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(nil))
	_, ok, err = store.GetOrderOwner(ctx, "o2")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery(`SELECT user_id FROM orders`).
		WithArgs("o3").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	_, ok, err = store.GetOrderOwner(ctx, "o3")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderPrice(t *testing.T) {
	store, mock := setupMockDB(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(price\), 0\) FROM order_items`).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("6.5"))

	total, err := store.GetOrderPrice(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("6.5").Equal(total))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditBalance(t *testing.T) {
	store, mock := setupMockDB(t)
	ctx := context.Background()
	credit := Credit{OrderID: "o1", UserID: 7, Amount: decimal.RequireFromString("6.5")}

	t.Run("first credit applies", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO order_refunds`).
			WithArgs("o1", int64(7), "6.5").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO coins`).
			WithArgs(int64(7), "6.5").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		applied, err := store.CreditBalance(ctx, credit)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("repeated credit is skipped", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO order_refunds`).
			WithArgs("o1", int64(7), "6.5").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		applied, err := store.CreditBalance(ctx, credit)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("coins failure rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO order_refunds`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO coins`).
			WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		applied, err := store.CreditBalance(ctx, credit)
		require.Error(t, err)
		assert.False(t, applied)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStaffPlacement(t *testing.T) {
	store, mock := setupMockDB(t)
	ctx := context.Background()
	staff := uuid.New()

	mock.ExpectQuery(`SELECT id, employee_id FROM partners_and_places_link`).
		WithArgs(staff.String(), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "employee_id"}).AddRow(int64(7), staff.String()))
	placement, err := store.GetStaffPlacement(ctx, staff, 7)
	require.NoError(t, err)
	require.NotNil(t, placement)
	assert.Equal(t, int64(7), placement.LocationID)
	assert.Equal(t, staff, placement.StaffUUID)

	mock.ExpectQuery(`SELECT id, employee_id FROM partners_and_places_link`).
		WithArgs(staff.String(), int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "employee_id"}))
	placement, err = store.GetStaffPlacement(ctx, staff, 9)
	require.NoError(t, err)
	assert.Nil(t, placement)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveLineItem(t *testing.T) {
	store, mock := setupMockDB(t)
	ctx := context.Background()
	cols := []string{"order_id", "name", "place_id"}

	t.Run("collects placements in order", func(t *testing.T) {
		mock.ExpectQuery(`SELECT oi.order_id, pp.name, pap.place_id`).
			WithArgs("11").
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow("abc123", "Latte", int64(7)).
				AddRow("abc123", "Latte", int64(9)))

		join, err := store.ResolveLineItem(ctx, "11")
		require.NoError(t, err)
		require.NotNil(t, join)
		assert.Equal(t, "abc123", join.OrderID)
		assert.Equal(t, "Latte", join.ProductName)
		assert.Equal(t, []int64{7, 9}, join.LocationIDs)
	})

	t.Run("product without placement", func(t *testing.T) {
		mock.ExpectQuery(`SELECT oi.order_id, pp.name, pap.place_id`).
			WithArgs("12").
			WillReturnRows(sqlmock.NewRows(cols).AddRow("abc123", "Latte", nil))

		join, err := store.ResolveLineItem(ctx, "12")
		require.NoError(t, err)
		require.NotNil(t, join)
		assert.Empty(t, join.LocationIDs)
	})

	t.Run("missing line item", func(t *testing.T) {
		mock.ExpectQuery(`SELECT oi.order_id, pp.name, pap.place_id`).
			WithArgs("13").
			WillReturnRows(sqlmock.NewRows(cols))

		join, err := store.ResolveLineItem(ctx, "13")
		require.NoError(t, err)
		assert.Nil(t, join)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaRejectsBadChannel(t *testing.T) {
	store, _ := setupMockDB(t)
	err := store.EnsureSchema(context.Background(), "items'; DROP TABLE orders;--")
	assert.Error(t, err)
}
