package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/orchardlane/pricing/internal/domain"
	"github.com/orchardlane/pricing/pkg/database"
	apperrors "github.com/orchardlane/pricing/pkg/errors"
)

// CouponRepository implements repository.CouponRepository using PostgreSQL.
type CouponRepository struct {
	db database.DBTX
}

// NewCouponRepository creates a new PostgreSQL-backed coupon repository.
func NewCouponRepository(db database.DBTX) *CouponRepository {
	return &CouponRepository{db: db}
}

const couponColumns = `id, name, code, type, rule_ids, customer, valid_from,
	valid_upto, maximum_use, used, description, created_at, updated_at`

// Create inserts a new coupon.
func (r *CouponRepository) Create(ctx context.Context, c *domain.Coupon) error {
	ruleIDsJSON, err := encodeRuleIDs(c.RuleIDs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.Exec(ctx, query,
		c.ID, c.Name, c.Code, c.Type, ruleIDsJSON, c.Customer,
		c.ValidFrom, c.ValidUpto, c.MaximumUse, c.Used, c.Description,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("coupon", "code", c.Code)
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// GetByCode retrieves a coupon by its normalized code.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	var (
		c           domain.Coupon
		ruleIDsJSON []byte
	)
	err := r.db.QueryRow(ctx, query, code).Scan(
		&c.ID, &c.Name, &c.Code, &c.Type, &ruleIDsJSON, &c.Customer,
		&c.ValidFrom, &c.ValidUpto, &c.MaximumUse, &c.Used, &c.Description,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", code)
		}
		return nil, fmt.Errorf("scan coupon: %w", err)
	}
	if c.RuleIDs, err = decodeRuleIDs(ruleIDsJSON); err != nil {
		return nil, err
	}
	return &c, nil
}

func encodeRuleIDs(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal coupon rule ids: %w", err)
	}
	return b, nil
}

func decodeRuleIDs(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("unmarshal coupon rule ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// GetByCodes retrieves coupons for the given normalized codes. Unknown
// codes are skipped.
func (r *CouponRepository) GetByCodes(ctx context.Context, codes []string) ([]domain.Coupon, error) {
	if len(codes) == 0 {
		return []domain.Coupon{}, nil
	}

	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = ANY($1) ORDER BY code`

	rows, err := r.db.Query(ctx, query, codes)
	if err != nil {
		return nil, fmt.Errorf("get coupons by codes: %w", err)
	}
	defer rows.Close()

	var coupons []domain.Coupon
	for rows.Next() {
		var (
			c           domain.Coupon
			ruleIDsJSON []byte
		)
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Code, &c.Type, &ruleIDsJSON, &c.Customer,
			&c.ValidFrom, &c.ValidUpto, &c.MaximumUse, &c.Used, &c.Description,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan coupon row: %w", err)
		}
		if c.RuleIDs, err = decodeRuleIDs(ruleIDsJSON); err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupon rows: %w", err)
	}
	if coupons == nil {
		coupons = []domain.Coupon{}
	}
	return coupons, nil
}

// CommitUsage increments the coupon's used counter in a single
// compare-and-swap: the guard in the WHERE clause makes concurrent commits
// against the same coupon serialize on the row without ever exceeding the
// cap.
func (r *CouponRepository) CommitUsage(ctx context.Context, code string) error {
	query := `
		UPDATE coupons
		SET used = used + 1, updated_at = NOW()
		WHERE code = $1 AND (maximum_use = 0 OR used < maximum_use)`

	ct, err := r.db.Exec(ctx, query, code)
	if err != nil {
		return fmt.Errorf("commit coupon usage: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either the coupon is unknown or its cap is spent.
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM coupons WHERE code = $1)`, code).Scan(&exists); err != nil {
		return fmt.Errorf("check coupon existence: %w", err)
	}
	if !exists {
		return apperrors.NotFound("coupon", code)
	}
	return fmt.Errorf("%w: %s", domain.ErrCouponExhausted, code)
}

// ReleaseUsage decrements the coupon's used counter, flooring at zero.
func (r *CouponRepository) ReleaseUsage(ctx context.Context, code string) error {
	query := `
		UPDATE coupons
		SET used = GREATEST(used - 1, 0), updated_at = NOW()
		WHERE code = $1`

	ct, err := r.db.Exec(ctx, query, code)
	if err != nil {
		return fmt.Errorf("release coupon usage: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("coupon", code)
	}
	return nil
}

// CreateMulti inserts a multi-coupon group.
func (r *CouponRepository) CreateMulti(ctx context.Context, group *domain.MultiCoupon) error {
	codesJSON, err := json.Marshal(group.Codes)
	if err != nil {
		return fmt.Errorf("marshal multi-coupon codes: %w", err)
	}

	query := `
		INSERT INTO multi_coupons (id, name, codes, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err = r.db.Exec(ctx, query, group.ID, group.Name, codesJSON, group.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("multi-coupon", "name", group.Name)
		}
		return fmt.Errorf("insert multi-coupon: %w", err)
	}
	return nil
}

// GetMultiByName retrieves a multi-coupon group by name.
func (r *CouponRepository) GetMultiByName(ctx context.Context, name string) (*domain.MultiCoupon, error) {
	query := `SELECT id, name, codes, created_at FROM multi_coupons WHERE name = $1`

	var (
		group     domain.MultiCoupon
		codesJSON []byte
	)
	err := r.db.QueryRow(ctx, query, name).Scan(&group.ID, &group.Name, &codesJSON, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("multi-coupon", name)
		}
		return nil, fmt.Errorf("scan multi-coupon: %w", err)
	}
	if err := json.Unmarshal(codesJSON, &group.Codes); err != nil {
		return nil, fmt.Errorf("unmarshal multi-coupon codes: %w", err)
	}
	return &group, nil
}
