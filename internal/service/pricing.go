package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/orchardlane/pricing/internal/domain"
	"github.com/orchardlane/pricing/internal/engine"
	"github.com/orchardlane/pricing/internal/event"
	"github.com/orchardlane/pricing/internal/repository"
	apperrors "github.com/orchardlane/pricing/pkg/errors"
)

// PricingService implements the business logic for rule authoring, coupon
// management and price resolution.
type PricingService struct {
	rules    repository.RuleRepository
	coupons  repository.CouponRepository
	items    repository.ItemRepository
	engine   *engine.Engine
	producer *event.Producer
	logger   *slog.Logger
}

// NewPricingService creates a new pricing service.
func NewPricingService(
	rules repository.RuleRepository,
	coupons repository.CouponRepository,
	items repository.ItemRepository,
	eng *engine.Engine,
	producer *event.Producer,
	logger *slog.Logger,
) *PricingService {
	return &PricingService{
		rules:    rules,
		coupons:  coupons,
		items:    items,
		engine:   eng,
		producer: producer,
		logger:   logger,
	}
}

// ---------------------------------------------------------------------------
// Rule authoring
// ---------------------------------------------------------------------------

// CreateRule validates and persists a new pricing rule.
func (s *PricingService) CreateRule(ctx context.Context, rule *domain.Rule) (*domain.Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	now := time.Now().UTC()
	rule.ID = uuid.New().String()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}

	if err := s.producer.PublishRuleCreated(ctx, rule); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish rule.created event",
			slog.String("rule_id", rule.ID),
			slog.String("error", err.Error()),
		)
		// Do not fail the operation if event publishing fails.
	}

	s.logger.InfoContext(ctx, "pricing rule created",
		slog.String("rule_id", rule.ID),
		slog.String("title", rule.Title),
		slog.String("apply_on", rule.ApplyOn),
	)

	return rule, nil
}

// GetRule retrieves a pricing rule by its ID.
func (s *PricingService) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get rule by id: %w", err)
	}
	return rule, nil
}

// ListRules returns a filtered, paginated list of pricing rules.
func (s *PricingService) ListRules(ctx context.Context, filter repository.RuleFilter) ([]domain.Rule, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.PerPage > 100 {
		filter.PerPage = 100
	}

	rules, total, err := s.rules.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list rules: %w", err)
	}

	return rules, total, nil
}

// UpdateRule replaces an existing rule's definition. The rule identity and
// creation time are preserved.
func (s *PricingService) UpdateRule(ctx context.Context, id string, rule *domain.Rule) (*domain.Rule, error) {
	existing, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get rule for update: %w", err)
	}

	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := rule.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}

	if err := s.producer.PublishRuleUpdated(ctx, rule); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish rule.updated event",
			slog.String("rule_id", rule.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "pricing rule updated",
		slog.String("rule_id", rule.ID),
		slog.String("title", rule.Title),
	)

	return rule, nil
}

// DeleteRule removes a pricing rule.
func (s *PricingService) DeleteRule(ctx context.Context, id string) error {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get rule for delete: %w", err)
	}

	if err := s.rules.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}

	if err := s.producer.PublishRuleDeleted(ctx, rule); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish rule.deleted event",
			slog.String("rule_id", rule.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "pricing rule deleted",
		slog.String("rule_id", rule.ID),
	)

	return nil
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// EvaluateLine resolves pricing rules for a single order line. An ambiguous
// rule set surfaces as a conflict error after publishing a conflict event.
func (s *PricingService) EvaluateLine(ctx context.Context, lc *domain.OrderLineContext, mode string) (*domain.ResolutionResult, error) {
	if !domain.ValidMode(mode) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown evaluation mode %q", mode))
	}
	if err := lc.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	result, err := s.engine.Evaluate(ctx, lc, mode)
	if err != nil {
		return nil, s.resolveError(ctx, lc, err)
	}
	s.publishResolution(ctx, lc, result)
	return result, nil
}

// publishResolution emits rule.applied and rule.removed events for one
// evaluated line. Publish failures are logged, never surfaced.
func (s *PricingService) publishResolution(ctx context.Context, lc *domain.OrderLineContext, result *domain.ResolutionResult) {
	if result == nil {
		return
	}
	if len(result.AppliedRuleIDs) > 0 {
		if err := s.producer.PublishRulesApplied(ctx, lc.ItemCode, lc.OrderID, result.AppliedRuleIDs); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish rule.applied event",
				slog.String("item_code", lc.ItemCode),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(result.RemovedRuleIDs) > 0 {
		if err := s.producer.PublishRulesRemoved(ctx, lc.ItemCode, lc.OrderID, result.RemovedRuleIDs); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish rule.removed event",
				slog.String("item_code", lc.ItemCode),
				slog.String("error", err.Error()),
			)
		}
	}
}

// OrderDiscount is a document-level discount produced by a transaction-scoped
// rule. It applies to the order total rather than any single line.
type OrderDiscount struct {
	RuleID             string  `json:"rule_id"`
	Title              string  `json:"title"`
	DiscountPercentage float64 `json:"discount_percentage,omitempty"`
	DiscountAmount     float64 `json:"discount_amount,omitempty"`
}

// EvaluateOrder resolves pricing rules for every line of an order and then
// checks transaction-scoped rules against the order total.
func (s *PricingService) EvaluateOrder(ctx context.Context, lines []*domain.OrderLineContext, mode string) ([]*domain.ResolutionResult, *OrderDiscount, error) {
	if !domain.ValidMode(mode) {
		return nil, nil, apperrors.InvalidInput(fmt.Sprintf("unknown evaluation mode %q", mode))
	}
	if len(lines) == 0 {
		return nil, nil, apperrors.InvalidInput("at least one order line is required")
	}
	for i, lc := range lines {
		if err := lc.Validate(); err != nil {
			return nil, nil, apperrors.InvalidInput(fmt.Sprintf("line %d: %s", i, err))
		}
	}

	results, err := s.engine.EvaluateBatch(ctx, lines, mode)
	if err != nil {
		return nil, nil, s.resolveError(ctx, lines[0], err)
	}
	for i, result := range results {
		if i < len(lines) {
			s.publishResolution(ctx, lines[i], result)
		}
	}

	var orderDiscount *OrderDiscount
	if mode != domain.ModeRemove {
		orderDiscount, err = s.transactionDiscount(ctx, lines)
		if err != nil {
			return nil, nil, err
		}
	}

	return results, orderDiscount, nil
}

// transactionDiscount finds the highest-priority transaction-scoped rule
// whose amount bounds admit the order total.
func (s *PricingService) transactionDiscount(ctx context.Context, lines []*domain.OrderLineContext) (*OrderDiscount, error) {
	lc := lines[0]
	if lc.IgnorePricingRules {
		return nil, nil
	}

	var total float64
	for _, line := range lines {
		total += line.Amount()
	}

	q := repository.CandidateQuery{
		ApplyOn:         domain.ApplyOnTransaction,
		Direction:       lc.Direction,
		TransactionDate: lc.TransactionDate,
		PriceDate:       lc.EffectivePriceDate(),
		Company:         lc.Company,
		Customer:        lc.Customer,
		Supplier:        lc.Supplier,
		SalesPartner:    lc.SalesPartner,
		Campaign:        lc.Campaign,
		PriceList:       lc.PriceList,
	}
	if lc.CustomerGroup != "" {
		q.CustomerGroup = []string{lc.CustomerGroup}
	}
	if lc.Territory != "" {
		q.Territory = []string{lc.Territory}
	}
	if lc.SupplierGroup != "" {
		q.SupplierGroup = []string{lc.SupplierGroup}
	}
	if lc.Warehouse != "" {
		q.Warehouses = []string{lc.Warehouse}
	}

	candidates, err := s.rules.FindCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find transaction rules: %w", err)
	}

	var best *domain.Rule
	for i := range candidates {
		r := &candidates[i]
		if r.PriceOrProduct != domain.DiscountModePrice || r.CouponBased {
			continue
		}
		if r.MinAmount > 0 && total < r.MinAmount {
			continue
		}
		if r.MaxAmount > 0 && total > r.MaxAmount {
			continue
		}
		if best == nil || r.EffectivePriority() > best.EffectivePriority() {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}

	discount := &OrderDiscount{RuleID: best.ID, Title: best.Title}
	switch best.RateOrDiscount {
	case domain.RateKindDiscountPercentage:
		discount.DiscountPercentage = best.DiscountPercentage
	case domain.RateKindDiscountAmount:
		discount.DiscountAmount = best.DiscountAmount
	default:
		return nil, nil
	}
	return discount, nil
}

// resolveError translates engine failures into transport-mappable errors,
// publishing a conflict event when the failure is an ambiguous rule set.
func (s *PricingService) resolveError(ctx context.Context, lc *domain.OrderLineContext, err error) error {
	var conflict *engine.ConflictError
	if errors.As(err, &conflict) {
		if pubErr := s.producer.PublishRuleConflict(ctx, lc.ItemCode, lc.OrderID, conflict.RuleIDs); pubErr != nil {
			s.logger.ErrorContext(ctx, "failed to publish rule.conflict event",
				slog.String("item_code", lc.ItemCode),
				slog.String("error", pubErr.Error()),
			)
		}
		return apperrors.Conflict(conflict.Error())
	}
	return fmt.Errorf("evaluate pricing: %w", err)
}

// ---------------------------------------------------------------------------
// Coupons
// ---------------------------------------------------------------------------

// CreateCoupon validates and persists a new coupon. Every linked pricing
// rule must exist and be coupon based.
func (s *PricingService) CreateCoupon(ctx context.Context, coupon *domain.Coupon) (*domain.Coupon, error) {
	if err := coupon.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if len(coupon.RuleIDs) > 0 {
		rules, err := s.rules.GetByIDs(ctx, coupon.RuleIDs)
		if err != nil {
			return nil, fmt.Errorf("get rules for coupon: %w", err)
		}
		known := make(map[string]*domain.Rule, len(rules))
		for i := range rules {
			known[rules[i].ID] = &rules[i]
		}
		for _, id := range coupon.RuleIDs {
			rule, ok := known[id]
			if !ok {
				return nil, apperrors.NotFound("pricing rule", id)
			}
			if !rule.CouponBased {
				return nil, apperrors.Unprocessable(fmt.Sprintf("pricing rule %q is not coupon based", rule.Title))
			}
		}
	}

	now := time.Now().UTC()
	coupon.ID = uuid.New().String()
	coupon.Used = 0
	coupon.CreatedAt = now
	coupon.UpdatedAt = now

	if err := s.coupons.Create(ctx, coupon); err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	if err := s.producer.PublishCouponCreated(ctx, coupon); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish coupon.created event",
			slog.String("coupon_id", coupon.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "coupon created",
		slog.String("coupon_id", coupon.ID),
		slog.String("code", coupon.Code),
	)

	return coupon, nil
}

// CreateMultiCoupon validates and persists a multi-coupon group. Every
// member code must reference an existing coupon.
func (s *PricingService) CreateMultiCoupon(ctx context.Context, group *domain.MultiCoupon) (*domain.MultiCoupon, error) {
	if err := group.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	members, err := s.coupons.GetByCodes(ctx, group.Codes)
	if err != nil {
		return nil, fmt.Errorf("get member coupons: %w", err)
	}
	if len(members) != len(group.Codes) {
		known := make(map[string]struct{}, len(members))
		for _, m := range members {
			known[m.Code] = struct{}{}
		}
		for _, code := range group.Codes {
			if _, ok := known[code]; !ok {
				return nil, apperrors.InvalidInput(fmt.Sprintf("unknown member coupon code %s", code))
			}
		}
	}

	group.ID = uuid.New().String()
	group.CreatedAt = time.Now().UTC()

	if err := s.coupons.CreateMulti(ctx, group); err != nil {
		return nil, fmt.Errorf("create multi-coupon: %w", err)
	}

	s.logger.InfoContext(ctx, "multi-coupon created",
		slog.String("name", group.Name),
		slog.Int("members", len(group.Codes)),
	)

	return group, nil
}

// GetCoupon retrieves a coupon by its code.
func (s *PricingService) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	coupon, err := s.coupons.GetByCode(ctx, domain.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("get coupon by code: %w", err)
	}
	return coupon, nil
}

// CommitCouponUsage reserves one redemption on every coupon the given codes
// expand to. If any commit fails, the ones already taken are released so the
// whole operation is all-or-nothing.
func (s *PricingService) CommitCouponUsage(ctx context.Context, codes []string, orderID string) error {
	expanded, err := s.expandCodes(ctx, codes)
	if err != nil {
		return err
	}
	if len(expanded) == 0 {
		return apperrors.InvalidInput("at least one coupon code is required")
	}

	var committed []string
	for _, code := range expanded {
		if err := s.coupons.CommitUsage(ctx, code); err != nil {
			for _, done := range committed {
				if relErr := s.coupons.ReleaseUsage(ctx, done); relErr != nil {
					s.logger.ErrorContext(ctx, "failed to release coupon after partial commit",
						slog.String("code", done),
						slog.String("error", relErr.Error()),
					)
				}
			}
			if errors.Is(err, domain.ErrCouponExhausted) {
				return apperrors.Gone(fmt.Sprintf("coupon %s has reached its usage limit", code))
			}
			return fmt.Errorf("commit coupon %s: %w", code, err)
		}
		committed = append(committed, code)
	}

	for _, code := range committed {
		if err := s.producer.PublishCouponUsage(ctx, event.TopicCouponUsageCommit, code, orderID); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish coupon usage event",
				slog.String("code", code),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "coupon usage committed",
		slog.Int("coupons", len(committed)),
		slog.String("order_id", orderID),
	)

	return nil
}

// ReleaseCouponUsage returns one redemption to every coupon the given codes
// expand to, for cancelled or amended orders.
func (s *PricingService) ReleaseCouponUsage(ctx context.Context, codes []string, orderID string) error {
	expanded, err := s.expandCodes(ctx, codes)
	if err != nil {
		return err
	}
	if len(expanded) == 0 {
		return apperrors.InvalidInput("at least one coupon code is required")
	}

	for _, code := range expanded {
		if err := s.coupons.ReleaseUsage(ctx, code); err != nil {
			return fmt.Errorf("release coupon %s: %w", code, err)
		}
		if err := s.producer.PublishCouponUsage(ctx, event.TopicCouponUsageReleased, code, orderID); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish coupon usage event",
				slog.String("code", code),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "coupon usage released",
		slog.Int("coupons", len(expanded)),
		slog.String("order_id", orderID),
	)

	return nil
}

// expandCodes normalizes the given codes and replaces multi-coupon names
// with their member codes, deduplicating the result.
func (s *PricingService) expandCodes(ctx context.Context, raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	var codes []string
	add := func(code string) {
		if _, ok := seen[code]; ok {
			return
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	for _, r := range raw {
		code := domain.NormalizeCode(r)
		if code == "" {
			continue
		}
		group, err := s.coupons.GetMultiByName(ctx, code)
		switch {
		case err == nil:
			for _, member := range group.Codes {
				add(member)
			}
		case errors.Is(err, apperrors.ErrNotFound):
			add(code)
		default:
			return nil, fmt.Errorf("expand coupon %s: %w", code, err)
		}
	}

	return codes, nil
}

// ---------------------------------------------------------------------------
// Weighted discount preview
// ---------------------------------------------------------------------------

// WeightedDiscountInput holds the parameters for a weighted discount preview.
type WeightedDiscountInput struct {
	ItemCode       string
	DiscountPrice  float64
	DiscountPerQty int
	MinQty         int
	MaxQty         int
}

// WeightedDiscountRow is one line of the blended unit-price table.
type WeightedDiscountRow struct {
	Qty       int     `json:"qty"`
	UnitPrice float64 `json:"unit_price"`
}

// WeightedDiscountPreview computes the blended unit price across a quantity
// range for a rule that prices full multiples of a pack quantity at the rule
// price and the remainder at the item's standard rate.
func (s *PricingService) WeightedDiscountPreview(ctx context.Context, input *WeightedDiscountInput) ([]WeightedDiscountRow, error) {
	if input.ItemCode == "" {
		return nil, apperrors.InvalidInput("item code is required")
	}
	if input.DiscountPrice <= 0 {
		return nil, apperrors.InvalidInput("discount price must be positive")
	}
	if input.DiscountPerQty < 1 {
		return nil, apperrors.InvalidInput("discount per qty must be at least 1")
	}

	minQty := input.MinQty
	if minQty <= 0 {
		minQty = 2
	}
	maxQty := input.MaxQty
	if maxQty <= 0 {
		maxQty = 7
	}
	if maxQty < minQty {
		return nil, apperrors.InvalidInput("max qty must not be below min qty")
	}
	if maxQty-minQty > 100 {
		return nil, apperrors.InvalidInput("quantity range is limited to 100 rows")
	}

	item, err := s.items.GetItem(ctx, input.ItemCode)
	if err != nil {
		return nil, fmt.Errorf("get item for preview: %w", err)
	}

	rows := make([]WeightedDiscountRow, 0, maxQty-minQty+1)
	for qty := minQty; qty <= maxQty; qty++ {
		remainder := qty % input.DiscountPerQty
		if remainder == 0 {
			rows = append(rows, WeightedDiscountRow{Qty: qty, UnitPrice: round2(input.DiscountPrice)})
			continue
		}
		blended := (float64(qty-remainder)*input.DiscountPrice + float64(remainder)*item.Rate) / float64(qty)
		rows = append(rows, WeightedDiscountRow{Qty: qty, UnitPrice: round2(blended)})
	}

	return rows, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
