package postgres

import (
	"context"
	"fmt"

	"github.com/orchardlane/pricing/internal/repository"
	"github.com/orchardlane/pricing/pkg/database"
)

// OrderHistoryRepository implements repository.OrderHistoryRepository
// over the orders and order_lines tables.
type OrderHistoryRepository struct {
	db database.DBTX
}

// NewOrderHistoryRepository creates a new PostgreSQL-backed order history
// repository.
func NewOrderHistoryRepository(db database.DBTX) *OrderHistoryRepository {
	return &OrderHistoryRepository{db: db}
}

// QualifyingOrders returns the customer's non-cancelled, non-paused,
// non-skipped orders sorted by delivery date ascending.
func (r *OrderHistoryRepository) QualifyingOrders(ctx context.Context, customer string) ([]repository.OrderRef, error) {
	query := `
		SELECT id, delivery_date, origin
		FROM orders
		WHERE customer = $1
		  AND status NOT IN ('cancelled', 'paused', 'skipped')
		ORDER BY delivery_date ASC, id ASC`

	rows, err := r.db.Query(ctx, query, customer)
	if err != nil {
		return nil, fmt.Errorf("qualifying orders for %s: %w", customer, err)
	}
	defer rows.Close()

	var orders []repository.OrderRef
	for rows.Next() {
		var o repository.OrderRef
		if err := rows.Scan(&o.ID, &o.DeliveryDate, &o.Origin); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

// CumulativeTotals returns the summed quantity and amount the customer
// transacted for the query's target dimension values inside the window.
func (r *OrderHistoryRepository) CumulativeTotals(ctx context.Context, q repository.CumulativeQuery) (float64, float64, error) {
	dimension, ok := map[string]string{
		"item_code":  "l.item_code",
		"item_group": "l.item_group",
		"brand":      "l.brand",
	}[q.ApplyOn]
	if !ok {
		return 0, 0, fmt.Errorf("cumulative totals: unsupported apply_on %q", q.ApplyOn)
	}

	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(l.stock_qty), 0), COALESCE(SUM(l.amount), 0)
		FROM order_lines l
		JOIN orders o ON o.id = l.order_id
		WHERE o.customer = $1
		  AND o.status NOT IN ('cancelled', 'paused', 'skipped')
		  AND o.delivery_date BETWEEN $2 AND $3
		  AND %s = ANY($4)`, dimension)

	var qty, amount float64
	err := r.db.QueryRow(ctx, query, q.Customer, q.From, q.Upto, q.Values).Scan(&qty, &amount)
	if err != nil {
		return 0, 0, fmt.Errorf("cumulative totals for %s: %w", q.Customer, err)
	}
	return qty, amount, nil
}
