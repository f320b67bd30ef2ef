package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/order-approvals/internal/domain"

	// Register the "postgres" driver.
	_ "github.com/lib/pq"
)

// Ensure Postgres implements the port at compile time.
var _ Store = (*Postgres)(nil)

// PoolConfig tunes the database/sql connection pool.
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Postgres is the lib/pq implementation of Store.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens a pool for dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string, pool PoolConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the pool so the change feed can share it for catch-up reads.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET status = $1 WHERE id = $2`, string(status), orderID)
	if err != nil {
		return fmt.Errorf("postgres: update status of %q: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update status of %q: %w", orderID, err)
	}
	if n == 0 {
		return fmt.Errorf("postgres: update status of %q: %w", orderID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) GetOrderOwner(ctx context.Context, orderID string) (int64, bool, error) {
	var userID sql.NullInt64
	err := p.db.QueryRowContext(ctx, `SELECT user_id FROM orders WHERE id = $1`, orderID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: get owner of %q: %w", orderID, err)
	}
	if !userID.Valid {
		return 0, false, nil
	}
	return userID.Int64, true, nil
}

func (p *Postgres) GetOrderPrice(ctx context.Context, orderID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(price), 0) FROM order_items WHERE order_id = $1`, orderID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: get price of %q: %w", orderID, err)
	}
	return total, nil
}

func (p *Postgres) OrderExists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check order %q: %w", orderID, err)
	}
	return exists, nil
}

// CreditBalance records the refund and upserts the coins row in one
// transaction. The order_refunds primary key makes the credit apply once.
func (p *Postgres) CreditBalance(ctx context.Context, credit Credit) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("postgres: begin credit for %q: %w", credit.OrderID, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO order_refunds (order_id, user_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING`,
		credit.OrderID, credit.UserID, credit.Amount.String())
	if err != nil {
		return false, fmt.Errorf("postgres: record refund for %q: %w", credit.OrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: record refund for %q: %w", credit.OrderID, err)
	}
	if n == 0 {
		// Already credited by an earlier attempt.
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO coins (user_id, coins)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET coins = coins.coins + EXCLUDED.coins`,
		credit.UserID, credit.Amount.String())
	if err != nil {
		return false, fmt.Errorf("postgres: credit user %d: %w", credit.UserID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("postgres: commit credit for %q: %w", credit.OrderID, err)
	}
	return true, nil
}

func (p *Postgres) GetStaffPlacement(ctx context.Context, staffUUID uuid.UUID, locationID int64) (*StaffPlacement, error) {
	var (
		placement StaffPlacement
		employee  string
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT id, employee_id FROM partners_and_places_link WHERE employee_id = $1 AND id = $2`,
		staffUUID.String(), locationID).Scan(&placement.LocationID, &employee)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get placement %s@%d: %w", staffUUID, locationID, err)
	}
	placement.StaffUUID, err = uuid.Parse(employee)
	if err != nil {
		return nil, fmt.Errorf("postgres: placement %d has malformed employee id: %w", locationID, err)
	}
	return &placement, nil
}

// ResolveLineItem reads the line item, its product and every placement of
// the product in a single statement.
func (p *Postgres) ResolveLineItem(ctx context.Context, lineItemID string) (*LineItemJoin, error) {
	const q = `
		SELECT oi.order_id, pp.name, pap.place_id
		FROM   order_items oi
		LEFT   JOIN partners_products pp ON pp.id = oi.partner_product_id
		LEFT   JOIN partners_produts_at_place pap ON pap.partner_product_id = pp.id
		WHERE  oi.id = $1
		ORDER  BY pap.id`

	rows, err := p.db.QueryContext(ctx, q, lineItemID)
	if err != nil {
		return nil, fmt.Errorf("postgres: resolve line item %s: %w", lineItemID, err)
	}
	defer rows.Close()

	var join *LineItemJoin
	for rows.Next() {
		var (
			orderID sql.NullString
			name    sql.NullString
			placeID sql.NullInt64
		)
		if err := rows.Scan(&orderID, &name, &placeID); err != nil {
			return nil, fmt.Errorf("postgres: scan line item %s: %w", lineItemID, err)
		}
		if join == nil {
			join = &LineItemJoin{
				LineItemID:  lineItemID,
				OrderID:     orderID.String,
				ProductName: name.String,
			}
		}
		if placeID.Valid {
			join.LocationIDs = append(join.LocationIDs, placeID.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate line item %s: %w", lineItemID, err)
	}
	return join, nil
}
