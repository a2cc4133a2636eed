package repository

import (
	"context"
	"time"

	"github.com/orchardlane/pricing/internal/domain"
)

// Hierarchy tree names understood by HierarchyRepository.
const (
	TreeItemGroup     = "item_group"
	TreeTerritory     = "territory"
	TreeCustomerGroup = "customer_group"
	TreeSupplierGroup = "supplier_group"
	TreeWarehouse     = "warehouse"
)

// RuleFilter defines filter criteria for listing pricing rules.
type RuleFilter struct {
	ApplyOn     *string
	Disabled    *bool
	CouponBased *bool
	Page        int
	PerPage     int
}

// CandidateQuery carries the per-dimension retrieval inputs for one
// candidate lookup. Values already includes hierarchy closure for the
// item-group dimension; the repository matches rules whose target list
// intersects it.
type CandidateQuery struct {
	ApplyOn         string
	Values          []string
	Direction       string
	TransactionDate time.Time

	// PriceDate gates the rule's price validity window, independently of
	// the transaction window. Callers default it to the transaction date.
	PriceDate time.Time

	Company       string
	Customer      string
	CustomerGroup []string
	Territory     []string
	Supplier      string
	SupplierGroup []string
	SalesPartner  string
	Campaign      string

	PriceList  string
	Warehouses []string
}

// RuleRepository defines persistence and retrieval operations for pricing
// rules.
type RuleRepository interface {
	// Create inserts a new rule into the store.
	Create(ctx context.Context, rule *domain.Rule) error

	// GetByID retrieves a rule by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Rule, error)

	// GetByIDs retrieves the rules with the given identifiers, preserving
	// input order and skipping unknown IDs.
	GetByIDs(ctx context.Context, ids []string) ([]domain.Rule, error)

	// List returns rules matching the given filter along with the total count.
	List(ctx context.Context, filter RuleFilter) ([]domain.Rule, int, error)

	// Update modifies an existing rule in the store.
	Update(ctx context.Context, rule *domain.Rule) error

	// Delete removes a rule by its ID.
	Delete(ctx context.Context, id string) error

	// FindCandidates returns enabled rules matching the query for one
	// apply-on dimension, in a stable order (priority, then creation time).
	FindCandidates(ctx context.Context, q CandidateQuery) ([]domain.Rule, error)
}

// CouponRepository defines persistence and redemption operations for
// coupons and multi-coupon groups.
type CouponRepository interface {
	// Create inserts a new coupon.
	Create(ctx context.Context, coupon *domain.Coupon) error

	// GetByCode retrieves a coupon by its normalized code.
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)

	// GetByCodes retrieves the coupons for the given normalized codes.
	GetByCodes(ctx context.Context, codes []string) ([]domain.Coupon, error)

	// CommitUsage atomically increments the coupon's used counter, failing
	// with domain.ErrCouponExhausted when the increment would exceed the
	// cap. A zero cap never fails.
	CommitUsage(ctx context.Context, code string) error

	// ReleaseUsage atomically decrements the coupon's used counter,
	// flooring at zero.
	ReleaseUsage(ctx context.Context, code string) error

	// CreateMulti inserts a multi-coupon group.
	CreateMulti(ctx context.Context, group *domain.MultiCoupon) error

	// GetMultiByName retrieves a multi-coupon group by name.
	GetMultiByName(ctx context.Context, name string) (*domain.MultiCoupon, error)
}

// ItemInfo is the slice of catalog data the engine needs per item.
type ItemInfo struct {
	Code      string
	ItemGroup string
	Brand     string
	StockUOM  string
	Rate      float64
}

// ItemRepository resolves catalog metadata for order lines and free items.
type ItemRepository interface {
	// GetItem retrieves catalog metadata for an item code.
	GetItem(ctx context.Context, code string) (*ItemInfo, error)

	// ConversionFactor returns the multiplier from the given UOM to the
	// item's stock UOM. The stock UOM itself has factor 1.
	ConversionFactor(ctx context.Context, itemCode, uom string) (float64, error)
}

// HierarchyRepository resolves tree closures for hierarchical dimensions.
type HierarchyRepository interface {
	// Ancestors returns the node followed by its ancestors up to the root.
	// An unknown node yields just itself.
	Ancestors(ctx context.Context, tree, node string) ([]string, error)

	// Descendants returns the node followed by every node beneath it.
	Descendants(ctx context.Context, tree, node string) ([]string, error)
}

// OrderRef is the minimal view of a past order the nth-order gate needs.
type OrderRef struct {
	ID           string
	DeliveryDate time.Time
	Origin       string
}

// CumulativeQuery asks for a customer's transacted totals over a rule's
// validity window, restricted to the rule's target dimension values.
type CumulativeQuery struct {
	Customer string
	ApplyOn  string
	Values   []string
	From     time.Time
	Upto     time.Time
}

// OrderHistoryRepository exposes the order history lookups the position and
// cumulative gates depend on.
type OrderHistoryRepository interface {
	// QualifyingOrders returns the customer's non-cancelled, non-paused,
	// non-skipped orders sorted by delivery date ascending.
	QualifyingOrders(ctx context.Context, customer string) ([]OrderRef, error)

	// CumulativeTotals returns the summed quantity and amount the customer
	// transacted for the query's targets inside the window.
	CumulativeTotals(ctx context.Context, q CumulativeQuery) (qty float64, amount float64, err error)
}
