package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orchardlane/pricing/internal/domain"
	"github.com/orchardlane/pricing/internal/repository"
	"github.com/orchardlane/pricing/pkg/database"
	apperrors "github.com/orchardlane/pricing/pkg/errors"
)

// RuleRepository implements repository.RuleRepository using PostgreSQL.
//
// The full rule is stored as a jsonb definition; the columns next to it are
// denormalized copies of the fields the candidate query filters on, so the
// hot path stays on indexes and the row never drifts from its definition.
type RuleRepository struct {
	db database.DBTX
}

// NewRuleRepository creates a new PostgreSQL-backed rule repository.
func NewRuleRepository(db database.DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleInsertQuery = `
	INSERT INTO pricing_rules (
		id, title, disabled, selling, buying, apply_on, targets,
		other_apply_on, other_value, company, customer, customer_group,
		territory, supplier, supplier_group, sales_partner, campaign,
		price_list, warehouse, currency, priority, coupon_based,
		apply_multiple, valid_from, valid_upto, price_valid_from,
		price_valid_upto, definition, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27,
		$28, $29, $30
	)`

// Create inserts a new rule into the database.
func (r *RuleRepository) Create(ctx context.Context, rule *domain.Rule) error {
	targetsJSON, definitionJSON, err := encodeRule(rule)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, ruleInsertQuery,
		rule.ID,
		rule.Title,
		rule.Disabled,
		rule.Selling,
		rule.Buying,
		rule.ApplyOn,
		targetsJSON,
		rule.ApplyRuleOnOther,
		rule.OtherTargetValue(),
		rule.Company,
		rule.Customer,
		rule.CustomerGroup,
		rule.Territory,
		rule.Supplier,
		rule.SupplierGroup,
		rule.SalesPartner,
		rule.Campaign,
		rule.PriceList,
		rule.Warehouse,
		rule.Currency,
		rule.EffectivePriority(),
		rule.CouponBased,
		rule.ApplyMultiple,
		rule.ValidFrom,
		rule.ValidUpto,
		rule.PriceValidFrom,
		rule.PriceValidUpto,
		definitionJSON,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("pricing rule", "title", rule.Title)
		}
		return fmt.Errorf("insert pricing rule: %w", err)
	}
	return nil
}

// GetByID retrieves a rule by its ID.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	row := r.db.QueryRow(ctx, `SELECT definition FROM pricing_rules WHERE id = $1`, id)

	var definitionJSON []byte
	if err := row.Scan(&definitionJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("pricing rule", id)
		}
		return nil, fmt.Errorf("scan pricing rule: %w", err)
	}
	return decodeRule(definitionJSON)
}

// GetByIDs retrieves rules for the given IDs, preserving input order and
// skipping unknown IDs.
func (r *RuleRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Rule, error) {
	if len(ids) == 0 {
		return []domain.Rule{}, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id, definition FROM pricing_rules WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get pricing rules by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Rule, len(ids))
	for rows.Next() {
		var (
			id             string
			definitionJSON []byte
		)
		if err := rows.Scan(&id, &definitionJSON); err != nil {
			return nil, fmt.Errorf("scan pricing rule row: %w", err)
		}
		rule, err := decodeRule(definitionJSON)
		if err != nil {
			return nil, err
		}
		byID[id] = *rule
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pricing rule rows: %w", err)
	}

	out := make([]domain.Rule, 0, len(ids))
	for _, id := range ids {
		if rule, ok := byID[id]; ok {
			out = append(out, rule)
		}
	}
	return out, nil
}

// List returns rules matching the filter with the total count.
func (r *RuleRepository) List(ctx context.Context, filter repository.RuleFilter) ([]domain.Rule, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.ApplyOn != nil {
		conditions = append(conditions, fmt.Sprintf("apply_on = $%d", argIndex))
		args = append(args, *filter.ApplyOn)
		argIndex++
	}
	if filter.Disabled != nil {
		conditions = append(conditions, fmt.Sprintf("disabled = $%d", argIndex))
		args = append(args, *filter.Disabled)
		argIndex++
	}
	if filter.CouponBased != nil {
		conditions = append(conditions, fmt.Sprintf("coupon_based = $%d", argIndex))
		args = append(args, *filter.CouponBased)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT definition, count(*) OVER() AS total_count
		FROM pricing_rules
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list pricing rules: %w", err)
	}
	defer rows.Close()

	var (
		rules      []domain.Rule
		totalCount int
	)
	for rows.Next() {
		var definitionJSON []byte
		if err := rows.Scan(&definitionJSON, &totalCount); err != nil {
			return nil, 0, fmt.Errorf("scan pricing rule row: %w", err)
		}
		rule, err := decodeRule(definitionJSON)
		if err != nil {
			return nil, 0, err
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate pricing rule rows: %w", err)
	}

	if rules == nil {
		rules = []domain.Rule{}
	}
	return rules, totalCount, nil
}

const ruleUpdateQuery = `
	UPDATE pricing_rules
	SET title = $1, disabled = $2, selling = $3, buying = $4, apply_on = $5,
	    targets = $6, other_apply_on = $7, other_value = $8, company = $9,
	    customer = $10, customer_group = $11, territory = $12, supplier = $13,
	    supplier_group = $14, sales_partner = $15, campaign = $16,
	    price_list = $17, warehouse = $18, currency = $19, priority = $20,
	    coupon_based = $21, apply_multiple = $22, valid_from = $23,
	    valid_upto = $24, price_valid_from = $25, price_valid_upto = $26,
	    definition = $27, updated_at = $28
	WHERE id = $29`

// Update modifies an existing rule in the database.
func (r *RuleRepository) Update(ctx context.Context, rule *domain.Rule) error {
	rule.UpdatedAt = time.Now().UTC()

	targetsJSON, definitionJSON, err := encodeRule(rule)
	if err != nil {
		return err
	}

	ct, err := r.db.Exec(ctx, ruleUpdateQuery,
		rule.Title,
		rule.Disabled,
		rule.Selling,
		rule.Buying,
		rule.ApplyOn,
		targetsJSON,
		rule.ApplyRuleOnOther,
		rule.OtherTargetValue(),
		rule.Company,
		rule.Customer,
		rule.CustomerGroup,
		rule.Territory,
		rule.Supplier,
		rule.SupplierGroup,
		rule.SalesPartner,
		rule.Campaign,
		rule.PriceList,
		rule.Warehouse,
		rule.Currency,
		rule.EffectivePriority(),
		rule.CouponBased,
		rule.ApplyMultiple,
		rule.ValidFrom,
		rule.ValidUpto,
		rule.PriceValidFrom,
		rule.PriceValidUpto,
		definitionJSON,
		rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("pricing rule", "title", rule.Title)
		}
		return fmt.Errorf("update pricing rule: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("pricing rule", rule.ID)
	}
	return nil
}

// Delete removes a rule by its ID.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM pricing_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pricing rule: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("pricing rule", id)
	}
	return nil
}

const candidateQuery = `
	SELECT definition
	FROM pricing_rules
	WHERE disabled = FALSE
	  AND (($2 = 'selling' AND selling) OR ($2 = 'buying' AND buying))
	  AND (valid_from IS NULL OR valid_from <= $3)
	  AND (valid_upto IS NULL OR valid_upto >= $3)
	  AND (price_valid_from IS NULL OR price_valid_from <= $15)
	  AND (price_valid_upto IS NULL OR price_valid_upto >= $15)
	  AND (company = '' OR company = $4)
	  AND (customer = '' OR customer = $5)
	  AND (customer_group = '' OR customer_group = ANY($6))
	  AND (territory = '' OR territory = ANY($7))
	  AND (supplier = '' OR supplier = $8)
	  AND (supplier_group = '' OR supplier_group = ANY($9))
	  AND (sales_partner = '' OR sales_partner = $10)
	  AND (campaign = '' OR campaign = $11)
	  AND (price_list = '' OR price_list = $12)
	  AND (warehouse = '' OR warehouse = ANY($13))
	  AND (
		(apply_on = $1 AND ($1 = 'transaction' OR targets ?| $14))
		OR (other_apply_on = $1 AND other_value = ANY($14))
	  )
	ORDER BY priority DESC, created_at ASC`

// FindCandidates returns enabled rules matching the query for one apply-on
// dimension, highest priority first, oldest first within a priority.
func (r *RuleRepository) FindCandidates(ctx context.Context, q repository.CandidateQuery) ([]domain.Rule, error) {
	priceDate := q.PriceDate
	if priceDate.IsZero() {
		priceDate = q.TransactionDate
	}

	rows, err := r.db.Query(ctx, candidateQuery,
		q.ApplyOn,
		q.Direction,
		q.TransactionDate,
		q.Company,
		q.Customer,
		emptyAsNone(q.CustomerGroup),
		emptyAsNone(q.Territory),
		q.Supplier,
		emptyAsNone(q.SupplierGroup),
		q.SalesPartner,
		q.Campaign,
		q.PriceList,
		emptyAsNone(q.Warehouses),
		q.Values,
		priceDate,
	)
	if err != nil {
		return nil, fmt.Errorf("find candidate rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var definitionJSON []byte
		if err := rows.Scan(&definitionJSON); err != nil {
			return nil, fmt.Errorf("scan candidate rule: %w", err)
		}
		rule, err := decodeRule(definitionJSON)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate rules: %w", err)
	}
	return rules, nil
}

// emptyAsNone keeps `= ANY(...)` from matching everything when the caller
// has no closure for a dimension: an empty array matches nothing, so only
// blank-scoped rules pass.
func emptyAsNone(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func encodeRule(rule *domain.Rule) (targetsJSON, definitionJSON []byte, err error) {
	targetsJSON, err = json.Marshal(rule.TargetValues())
	if err != nil {
		return nil, nil, fmt.Errorf("marshal rule targets: %w", err)
	}
	definitionJSON, err = json.Marshal(rule)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal rule definition: %w", err)
	}
	return targetsJSON, definitionJSON, nil
}

func decodeRule(definitionJSON []byte) (*domain.Rule, error) {
	var rule domain.Rule
	if err := json.Unmarshal(definitionJSON, &rule); err != nil {
		return nil, fmt.Errorf("unmarshal rule definition: %w", err)
	}
	return &rule, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
