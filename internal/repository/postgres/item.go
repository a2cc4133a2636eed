package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/orchardlane/pricing/internal/repository"
	"github.com/orchardlane/pricing/pkg/database"
	apperrors "github.com/orchardlane/pricing/pkg/errors"
)

// ItemRepository implements repository.ItemRepository using PostgreSQL.
type ItemRepository struct {
	db database.DBTX
}

// NewItemRepository creates a new PostgreSQL-backed item repository.
func NewItemRepository(db database.DBTX) *ItemRepository {
	return &ItemRepository{db: db}
}

// GetItem retrieves catalog metadata for an item code.
func (r *ItemRepository) GetItem(ctx context.Context, code string) (*repository.ItemInfo, error) {
	query := `
		SELECT code, item_group, brand, stock_uom, rate
		FROM items
		WHERE code = $1`

	var info repository.ItemInfo
	err := r.db.QueryRow(ctx, query, code).Scan(
		&info.Code, &info.ItemGroup, &info.Brand, &info.StockUOM, &info.Rate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("item", code)
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return &info, nil
}

// ConversionFactor returns the multiplier from the given UOM to the item's
// stock UOM. The stock UOM itself has factor 1.
func (r *ItemRepository) ConversionFactor(ctx context.Context, itemCode, uom string) (float64, error) {
	query := `
		SELECT CASE WHEN i.stock_uom = $2 THEN 1.0 ELSE c.factor END
		FROM items i
		LEFT JOIN uom_conversions c ON c.item_code = i.code AND c.uom = $2
		WHERE i.code = $1`

	var factor *float64
	if err := r.db.QueryRow(ctx, query, itemCode, uom).Scan(&factor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NotFound("item", itemCode)
		}
		return 0, fmt.Errorf("scan conversion factor: %w", err)
	}
	if factor == nil {
		return 0, apperrors.NotFound("uom conversion", itemCode+"/"+uom)
	}
	return *factor, nil
}
