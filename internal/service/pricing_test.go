package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/orchardlane/pricing/internal/domain"
	"github.com/orchardlane/pricing/internal/engine"
	"github.com/orchardlane/pricing/internal/event"
	"github.com/orchardlane/pricing/internal/repository"
	apperrors "github.com/orchardlane/pricing/pkg/errors"
	pkgkafka "github.com/orchardlane/pricing/pkg/kafka"
)

// --- Mock Repositories ---

type mockRuleRepository struct {
	mock.Mock
}

func (m *mockRuleRepository) Create(ctx context.Context, rule *domain.Rule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *mockRuleRepository) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Rule), args.Error(1)
}

func (m *mockRuleRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Rule, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]domain.Rule), args.Error(1)
}

func (m *mockRuleRepository) List(ctx context.Context, filter repository.RuleFilter) ([]domain.Rule, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Rule), args.Int(1), args.Error(2)
}

func (m *mockRuleRepository) Update(ctx context.Context, rule *domain.Rule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *mockRuleRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRuleRepository) FindCandidates(ctx context.Context, q repository.CandidateQuery) ([]domain.Rule, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]domain.Rule), args.Error(1)
}

type mockCouponRepository struct {
	mock.Mock
}

func (m *mockCouponRepository) Create(ctx context.Context, coupon *domain.Coupon) error {
	args := m.Called(ctx, coupon)
	return args.Error(0)
}

func (m *mockCouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Coupon), args.Error(1)
}

func (m *mockCouponRepository) GetByCodes(ctx context.Context, codes []string) ([]domain.Coupon, error) {
	args := m.Called(ctx, codes)
	return args.Get(0).([]domain.Coupon), args.Error(1)
}

func (m *mockCouponRepository) CommitUsage(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *mockCouponRepository) ReleaseUsage(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *mockCouponRepository) CreateMulti(ctx context.Context, group *domain.MultiCoupon) error {
	args := m.Called(ctx, group)
	return args.Error(0)
}

func (m *mockCouponRepository) GetMultiByName(ctx context.Context, name string) (*domain.MultiCoupon, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MultiCoupon), args.Error(1)
}

type mockItemRepository struct {
	mock.Mock
}

func (m *mockItemRepository) GetItem(ctx context.Context, code string) (*repository.ItemInfo, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ItemInfo), args.Error(1)
}

func (m *mockItemRepository) ConversionFactor(ctx context.Context, itemCode, uom string) (float64, error) {
	args := m.Called(ctx, itemCode, uom)
	return args.Get(0).(float64), args.Error(1)
}

// stubTrees resolves every node to itself, with no hierarchy behind it.
type stubTrees struct{}

func (stubTrees) Ancestors(ctx context.Context, tree, node string) ([]string, error) {
	return []string{node}, nil
}

func (stubTrees) Descendants(ctx context.Context, tree, node string) ([]string, error) {
	return []string{node}, nil
}

// stubHistory has no past orders.
type stubHistory struct{}

func (stubHistory) QualifyingOrders(ctx context.Context, customer string) ([]repository.OrderRef, error) {
	return nil, nil
}

func (stubHistory) CumulativeTotals(ctx context.Context, q repository.CumulativeQuery) (float64, float64, error) {
	return 0, 0, nil
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(rules *mockRuleRepository, coupons *mockCouponRepository, items *mockItemRepository) *PricingService {
	logger := newTestLogger()
	// Create a Kafka producer that will fail silently in tests (no real broker).
	kafkaCfg := pkgkafka.DefaultProducerConfig([]string{"localhost:9092"})
	kafkaProducer := pkgkafka.NewProducer(kafkaCfg, logger)
	producer := event.NewProducer(kafkaProducer, logger)
	eng := engine.New(rules, coupons, items, stubTrees{}, stubHistory{}, logger)
	return NewPricingService(rules, coupons, items, eng, producer, logger)
}

func validRule() *domain.Rule {
	return &domain.Rule{
		Title:              "Ten Percent Off Widgets",
		Selling:            true,
		ApplyOn:            domain.ApplyOnItemCode,
		Items:              []string{"WIDGET-1"},
		PriceOrProduct:     domain.DiscountModePrice,
		RateOrDiscount:     domain.RateKindDiscountPercentage,
		DiscountPercentage: 10,
	}
}

func validLine() *domain.OrderLineContext {
	return &domain.OrderLineContext{
		ItemCode:        "WIDGET-1",
		ItemGroup:       "Widgets",
		Brand:           "Acme",
		Qty:             10,
		StockUOM:        "Unit",
		PriceListRate:   100,
		Currency:        "USD",
		Customer:        "CUST-1",
		Direction:       domain.DirectionSelling,
		TransactionDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// lineQuery matches candidate lookups on line dimensions, transactionQuery
// the document-level lookup.
var lineQuery = mock.MatchedBy(func(q repository.CandidateQuery) bool {
	return q.ApplyOn != domain.ApplyOnTransaction
})

var transactionQuery = mock.MatchedBy(func(q repository.CandidateQuery) bool {
	return q.ApplyOn == domain.ApplyOnTransaction
})

// --- Rule authoring ---

func TestCreateRule_Success(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	rules.On("Create", ctx, mock.AnythingOfType("*domain.Rule")).Return(nil)

	rule, err := svc.CreateRule(ctx, validRule())

	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.NotZero(t, rule.CreatedAt)
	assert.NotZero(t, rule.UpdatedAt)
	assert.Equal(t, "Ten Percent Off Widgets", rule.Title)

	rules.AssertExpectations(t)
}

func TestCreateRule_InvalidRule(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	r := validRule()
	r.Title = ""

	rule, err := svc.CreateRule(ctx, r)

	assert.Nil(t, rule)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	rules.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateRule_RepositoryError(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	rules.On("Create", ctx, mock.AnythingOfType("*domain.Rule")).
		Return(apperrors.AlreadyExists("pricing_rule", "title", "Ten Percent Off Widgets"))

	rule, err := svc.CreateRule(ctx, validRule())

	assert.Nil(t, rule)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	rules.AssertExpectations(t)
}

func TestGetRule_NotFound(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	rules.On("GetByID", ctx, "nonexistent").Return(nil, apperrors.ErrNotFound)

	rule, err := svc.GetRule(ctx, "nonexistent")

	assert.Nil(t, rule)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	rules.AssertExpectations(t)
}

func TestListRules_DefaultPagination(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	expectedFilter := repository.RuleFilter{Page: 1, PerPage: 20}
	rules.On("List", ctx, expectedFilter).Return([]domain.Rule{}, 0, nil)

	list, total, err := svc.ListRules(ctx, repository.RuleFilter{})

	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, total)
	rules.AssertExpectations(t)
}

func TestUpdateRule_PreservesIdentity(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := validRule()
	existing.ID = "rule-1"
	existing.CreatedAt = created

	rules.On("GetByID", ctx, "rule-1").Return(existing, nil)
	rules.On("Update", ctx, mock.AnythingOfType("*domain.Rule")).Return(nil)

	replacement := validRule()
	replacement.DiscountPercentage = 15

	rule, err := svc.UpdateRule(ctx, "rule-1", replacement)

	require.NoError(t, err)
	assert.Equal(t, "rule-1", rule.ID)
	assert.Equal(t, created, rule.CreatedAt)
	assert.True(t, rule.UpdatedAt.After(created))
	assert.Equal(t, 15.0, rule.DiscountPercentage)
	rules.AssertExpectations(t)
}

func TestUpdateRule_InvalidReplacement(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	existing := validRule()
	existing.ID = "rule-1"
	rules.On("GetByID", ctx, "rule-1").Return(existing, nil)

	replacement := validRule()
	replacement.Items = nil

	rule, err := svc.UpdateRule(ctx, "rule-1", replacement)

	assert.Nil(t, rule)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	rules.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestDeleteRule_Success(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	existing := validRule()
	existing.ID = "rule-1"
	rules.On("GetByID", ctx, "rule-1").Return(existing, nil)
	rules.On("Delete", ctx, "rule-1").Return(nil)

	err := svc.DeleteRule(ctx, "rule-1")

	require.NoError(t, err)
	rules.AssertExpectations(t)
}

func TestDeleteRule_NotFound(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	rules.On("GetByID", ctx, "nonexistent").Return(nil, apperrors.ErrNotFound)

	err := svc.DeleteRule(ctx, "nonexistent")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	rules.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

// --- Resolution ---

func TestEvaluateLine_NoCandidates(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	rules.On("FindCandidates", ctx, lineQuery).Return([]domain.Rule{}, nil)

	result, err := svc.EvaluateLine(ctx, validLine(), domain.ModeApply)

	require.NoError(t, err)
	assert.False(t, result.HasPricingRule)
	assert.Empty(t, result.AppliedRuleIDs)
}

func TestEvaluateLine_AppliesDiscount(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	r := validRule()
	r.ID = "rule-1"
	rules.On("FindCandidates", ctx, lineQuery).Return([]domain.Rule{*r}, nil).Once()

	result, err := svc.EvaluateLine(ctx, validLine(), domain.ModeApply)

	require.NoError(t, err)
	assert.True(t, result.HasPricingRule)
	assert.Equal(t, []string{"rule-1"}, result.AppliedRuleIDs)
	assert.Equal(t, 10.0, result.DiscountPercentage)
}

func TestEvaluateLine_InvalidMode(t *testing.T) {
	svc := newTestService(new(mockRuleRepository), new(mockCouponRepository), new(mockItemRepository))

	result, err := svc.EvaluateLine(context.Background(), validLine(), "reprice")

	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestEvaluateLine_InvalidContext(t *testing.T) {
	svc := newTestService(new(mockRuleRepository), new(mockCouponRepository), new(mockItemRepository))

	lc := validLine()
	lc.ItemCode = ""

	result, err := svc.EvaluateLine(context.Background(), lc, domain.ModeApply)

	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestEvaluateLine_ConflictSurfacesAsConflict(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	a := validRule()
	a.ID = "rule-a"
	a.Title = "Rule A"
	a.Priority = 2
	b := validRule()
	b.ID = "rule-b"
	b.Title = "Rule B"
	b.Priority = 2

	rules.On("FindCandidates", ctx, lineQuery).Return([]domain.Rule{*a, *b}, nil).Once()
	rules.On("FindCandidates", ctx, lineQuery).Return([]domain.Rule{}, nil)

	result, err := svc.EvaluateLine(ctx, validLine(), domain.ModeApply)

	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestEvaluateOrder_NoLines(t *testing.T) {
	svc := newTestService(new(mockRuleRepository), new(mockCouponRepository), new(mockItemRepository))

	results, discount, err := svc.EvaluateOrder(context.Background(), nil, domain.ModeApply)

	assert.Nil(t, results)
	assert.Nil(t, discount)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestEvaluateOrder_TransactionDiscount(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	txRule := domain.Rule{
		ID:                 "rule-tx",
		Title:              "Five Percent Off Orders Over 500",
		Selling:            true,
		ApplyOn:            domain.ApplyOnTransaction,
		PriceOrProduct:     domain.DiscountModePrice,
		RateOrDiscount:     domain.RateKindDiscountPercentage,
		DiscountPercentage: 5,
		MinAmount:          500,
	}

	rules.On("FindCandidates", ctx, lineQuery).Return([]domain.Rule{}, nil)
	rules.On("FindCandidates", ctx, transactionQuery).Return([]domain.Rule{txRule}, nil)

	// Line total is 10 * 100 = 1000, above the rule's minimum.
	results, discount, err := svc.EvaluateOrder(ctx, []*domain.OrderLineContext{validLine()}, domain.ModeApply)

	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, discount)
	assert.Equal(t, "rule-tx", discount.RuleID)
	assert.Equal(t, 5.0, discount.DiscountPercentage)
}

func TestEvaluateOrder_TransactionBelowMinimum(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	txRule := domain.Rule{
		ID:                 "rule-tx",
		Selling:            true,
		ApplyOn:            domain.ApplyOnTransaction,
		PriceOrProduct:     domain.DiscountModePrice,
		RateOrDiscount:     domain.RateKindDiscountPercentage,
		DiscountPercentage: 5,
		MinAmount:          5000,
	}

	rules.On("FindCandidates", ctx, lineQuery).Return([]domain.Rule{}, nil)
	rules.On("FindCandidates", ctx, transactionQuery).Return([]domain.Rule{txRule}, nil)

	_, discount, err := svc.EvaluateOrder(ctx, []*domain.OrderLineContext{validLine()}, domain.ModeApply)

	require.NoError(t, err)
	assert.Nil(t, discount)
}

func TestEvaluateOrder_RemoveSkipsTransactionRules(t *testing.T) {
	rules := new(mockRuleRepository)
	svc := newTestService(rules, new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	lc := validLine()
	lc.AppliedRuleIDs = []string{"rule-1"}

	results, discount, err := svc.EvaluateOrder(ctx, []*domain.OrderLineContext{lc}, domain.ModeRemove)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"rule-1"}, results[0].RemovedRuleIDs)
	assert.Nil(t, discount)
	rules.AssertNotCalled(t, "FindCandidates", mock.Anything, mock.Anything)
}

// --- Coupons ---

func TestCreateCoupon_Success(t *testing.T) {
	rules := new(mockRuleRepository)
	coupons := new(mockCouponRepository)
	svc := newTestService(rules, coupons, new(mockItemRepository))
	ctx := context.Background()

	couponRuleA := *validRule()
	couponRuleA.ID = "rule-1"
	couponRuleA.CouponBased = true
	couponRuleB := couponRuleA
	couponRuleB.ID = "rule-2"

	rules.On("GetByIDs", ctx, []string{"rule-1", "rule-2"}).Return([]domain.Rule{couponRuleA, couponRuleB}, nil)
	coupons.On("Create", ctx, mock.AnythingOfType("*domain.Coupon")).Return(nil)

	coupon, err := svc.CreateCoupon(ctx, &domain.Coupon{
		Name:    "Summer Promo",
		Type:    domain.CouponTypePromotional,
		RuleIDs: []string{"rule-1", "rule-2"},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, coupon.ID)
	assert.Equal(t, "SUMMERPROMO", coupon.Code)
	assert.Equal(t, 0, coupon.Used)
	assert.NotZero(t, coupon.CreatedAt)

	rules.AssertExpectations(t)
	coupons.AssertExpectations(t)
}

func TestCreateCoupon_NoLinkedRules(t *testing.T) {
	rules := new(mockRuleRepository)
	coupons := new(mockCouponRepository)
	svc := newTestService(rules, coupons, new(mockItemRepository))
	ctx := context.Background()

	coupons.On("Create", ctx, mock.AnythingOfType("*domain.Coupon")).Return(nil)

	coupon, err := svc.CreateCoupon(ctx, &domain.Coupon{
		Name: "Unlinked Promo",
		Type: domain.CouponTypePromotional,
	})

	require.NoError(t, err)
	assert.Empty(t, coupon.RuleIDs)
	rules.AssertNotCalled(t, "GetByIDs", mock.Anything, mock.Anything)
	coupons.AssertExpectations(t)
}

func TestCreateCoupon_RuleNotCouponBased(t *testing.T) {
	rules := new(mockRuleRepository)
	coupons := new(mockCouponRepository)
	svc := newTestService(rules, coupons, new(mockItemRepository))
	ctx := context.Background()

	plainRule := *validRule()
	plainRule.ID = "rule-1"

	rules.On("GetByIDs", ctx, []string{"rule-1"}).Return([]domain.Rule{plainRule}, nil)

	coupon, err := svc.CreateCoupon(ctx, &domain.Coupon{
		Name:    "Summer Promo",
		Type:    domain.CouponTypePromotional,
		RuleIDs: []string{"rule-1"},
	})

	assert.Nil(t, coupon)
	assert.ErrorIs(t, err, apperrors.ErrUnprocessable)
	coupons.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateCoupon_UnknownLinkedRule(t *testing.T) {
	rules := new(mockRuleRepository)
	coupons := new(mockCouponRepository)
	svc := newTestService(rules, coupons, new(mockItemRepository))
	ctx := context.Background()

	rules.On("GetByIDs", ctx, []string{"ghost"}).Return([]domain.Rule{}, nil)

	coupon, err := svc.CreateCoupon(ctx, &domain.Coupon{
		Name:    "Summer Promo",
		Type:    domain.CouponTypePromotional,
		RuleIDs: []string{"ghost"},
	})

	assert.Nil(t, coupon)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	coupons.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateCoupon_InvalidCoupon(t *testing.T) {
	svc := newTestService(new(mockRuleRepository), new(mockCouponRepository), new(mockItemRepository))

	coupon, err := svc.CreateCoupon(context.Background(), &domain.Coupon{
		Name:    "Dup Links",
		Type:    domain.CouponTypePromotional,
		RuleIDs: []string{"rule-1", "rule-1"},
	})

	assert.Nil(t, coupon)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCreateMultiCoupon_Success(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newTestService(new(mockRuleRepository), coupons, new(mockItemRepository))
	ctx := context.Background()

	coupons.On("GetByCodes", ctx, []string{"CODEA", "CODEB"}).Return([]domain.Coupon{
		{Code: "CODEA"}, {Code: "CODEB"},
	}, nil)
	coupons.On("CreateMulti", ctx, mock.AnythingOfType("*domain.MultiCoupon")).Return(nil)

	group, err := svc.CreateMultiCoupon(ctx, &domain.MultiCoupon{
		Name:  "Bundle",
		Codes: []string{"code a", "code b"},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, group.ID)
	assert.Equal(t, []string{"CODEA", "CODEB"}, group.Codes)
	coupons.AssertExpectations(t)
}

func TestCreateMultiCoupon_UnknownMember(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newTestService(new(mockRuleRepository), coupons, new(mockItemRepository))
	ctx := context.Background()

	coupons.On("GetByCodes", ctx, []string{"CODEA", "CODEB"}).Return([]domain.Coupon{
		{Code: "CODEA"},
	}, nil)

	group, err := svc.CreateMultiCoupon(ctx, &domain.MultiCoupon{
		Name:  "Bundle",
		Codes: []string{"CODEA", "CODEB"},
	})

	assert.Nil(t, group)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	coupons.AssertNotCalled(t, "CreateMulti", mock.Anything, mock.Anything)
}

func TestGetCoupon_NormalizesCode(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newTestService(new(mockRuleRepository), coupons, new(mockItemRepository))
	ctx := context.Background()

	expected := &domain.Coupon{Code: "SAVE10"}
	coupons.On("GetByCode", ctx, "SAVE10").Return(expected, nil)

	coupon, err := svc.GetCoupon(ctx, "  save 10  ")

	require.NoError(t, err)
	assert.Equal(t, expected, coupon)
	coupons.AssertExpectations(t)
}

func TestCommitCouponUsage_Success(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newTestService(new(mockRuleRepository), coupons, new(mockItemRepository))
	ctx := context.Background()

	coupons.On("GetMultiByName", ctx, "SAVE10").Return(nil, apperrors.ErrNotFound)
	coupons.On("CommitUsage", ctx, "SAVE10").Return(nil)

	err := svc.CommitCouponUsage(ctx, []string{"save10"}, "order-1")

	require.NoError(t, err)
	coupons.AssertExpectations(t)
}

func TestCommitCouponUsage_ExpandsMultiCoupon(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newTestService(new(mockRuleRepository), coupons, new(mockItemRepository))
	ctx := context.Background()

	coupons.On("GetMultiByName", ctx, "BUNDLE").Return(&domain.MultiCoupon{
		Name:  "BUNDLE",
		Codes: []string{"CODEA", "CODEB"},
	}, nil)
	coupons.On("CommitUsage", ctx, "CODEA").Return(nil)
	coupons.On("CommitUsage", ctx, "CODEB").Return(nil)

	err := svc.CommitCouponUsage(ctx, []string{"bundle"}, "order-1")

	require.NoError(t, err)
	coupons.AssertExpectations(t)
}

func TestCommitCouponUsage_ExhaustedReleasesCommitted(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newTestService(new(mockRuleRepository), coupons, new(mockItemRepository))
	ctx := context.Background()

	coupons.On("GetMultiByName", ctx, "CODEA").Return(nil, apperrors.ErrNotFound)
	coupons.On("GetMultiByName", ctx, "CODEB").Return(nil, apperrors.ErrNotFound)
	coupons.On("CommitUsage", ctx, "CODEA").Return(nil)
	coupons.On("CommitUsage", ctx, "CODEB").Return(domain.ErrCouponExhausted)
	coupons.On("ReleaseUsage", ctx, "CODEA").Return(nil)

	err := svc.CommitCouponUsage(ctx, []string{"CODEA", "CODEB"}, "order-1")

	assert.ErrorIs(t, err, apperrors.ErrGone)
	coupons.AssertExpectations(t)
}

func TestCommitCouponUsage_NoCodes(t *testing.T) {
	svc := newTestService(new(mockRuleRepository), new(mockCouponRepository), new(mockItemRepository))

	err := svc.CommitCouponUsage(context.Background(), []string{"", "  "}, "order-1")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestReleaseCouponUsage_Success(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newTestService(new(mockRuleRepository), coupons, new(mockItemRepository))
	ctx := context.Background()

	coupons.On("GetMultiByName", ctx, "SAVE10").Return(nil, apperrors.ErrNotFound)
	coupons.On("ReleaseUsage", ctx, "SAVE10").Return(nil)

	err := svc.ReleaseCouponUsage(ctx, []string{"SAVE10"}, "order-1")

	require.NoError(t, err)
	coupons.AssertExpectations(t)
}

// --- Weighted discount preview ---

func TestWeightedDiscountPreview_BlendedTable(t *testing.T) {
	items := new(mockItemRepository)
	svc := newTestService(new(mockRuleRepository), new(mockCouponRepository), items)
	ctx := context.Background()

	items.On("GetItem", ctx, "WIDGET-1").Return(&repository.ItemInfo{
		Code: "WIDGET-1",
		Rate: 10,
	}, nil)

	rows, err := svc.WeightedDiscountPreview(ctx, &WeightedDiscountInput{
		ItemCode:       "WIDGET-1",
		DiscountPrice:  8,
		DiscountPerQty: 3,
		MinQty:         2,
		MaxQty:         7,
	})

	require.NoError(t, err)
	require.Len(t, rows, 6)
	// Full multiples of 3 get the rule price; other quantities blend the
	// remainder at the standard rate.
	assert.Equal(t, WeightedDiscountRow{Qty: 2, UnitPrice: 10}, rows[0])
	assert.Equal(t, WeightedDiscountRow{Qty: 3, UnitPrice: 8}, rows[1])
	assert.Equal(t, WeightedDiscountRow{Qty: 4, UnitPrice: 8.5}, rows[2])
	assert.Equal(t, WeightedDiscountRow{Qty: 5, UnitPrice: 8.8}, rows[3])
	assert.Equal(t, WeightedDiscountRow{Qty: 6, UnitPrice: 8}, rows[4])
	assert.Equal(t, WeightedDiscountRow{Qty: 7, UnitPrice: 8.29}, rows[5])

	items.AssertExpectations(t)
}

func TestWeightedDiscountPreview_DefaultsRange(t *testing.T) {
	items := new(mockItemRepository)
	svc := newTestService(new(mockRuleRepository), new(mockCouponRepository), items)
	ctx := context.Background()

	items.On("GetItem", ctx, "WIDGET-1").Return(&repository.ItemInfo{Code: "WIDGET-1", Rate: 10}, nil)

	rows, err := svc.WeightedDiscountPreview(ctx, &WeightedDiscountInput{
		ItemCode:       "WIDGET-1",
		DiscountPrice:  8,
		DiscountPerQty: 2,
	})

	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, 2, rows[0].Qty)
	assert.Equal(t, 7, rows[len(rows)-1].Qty)
}

func TestWeightedDiscountPreview_InvalidInput(t *testing.T) {
	svc := newTestService(new(mockRuleRepository), new(mockCouponRepository), new(mockItemRepository))
	ctx := context.Background()

	_, err := svc.WeightedDiscountPreview(ctx, &WeightedDiscountInput{
		ItemCode:       "WIDGET-1",
		DiscountPrice:  8,
		DiscountPerQty: 0,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.WeightedDiscountPreview(ctx, &WeightedDiscountInput{
		ItemCode:       "WIDGET-1",
		DiscountPrice:  8,
		DiscountPerQty: 2,
		MinQty:         5,
		MaxQty:         3,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
