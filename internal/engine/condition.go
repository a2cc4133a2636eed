package engine

import (
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/orchardlane/pricing/internal/domain"
)

// conditionEvaluator compiles and runs rule condition expressions. Compiled
// programs are cached per rule so repeated evaluations of the same rule do
// not recompile; the cache is safe for concurrent use.
type conditionEvaluator struct {
	env    *cel.Env
	logger *slog.Logger

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newConditionEvaluator(logger *slog.Logger) *conditionEvaluator {
	env, err := cel.NewEnv(
		cel.Variable("item_code", cel.StringType),
		cel.Variable("item_group", cel.StringType),
		cel.Variable("brand", cel.StringType),
		cel.Variable("qty", cel.DoubleType),
		cel.Variable("stock_qty", cel.DoubleType),
		cel.Variable("price_list_rate", cel.DoubleType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("customer", cel.StringType),
		cel.Variable("customer_group", cel.StringType),
		cel.Variable("territory", cel.StringType),
		cel.Variable("supplier", cel.StringType),
		cel.Variable("supplier_group", cel.StringType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("price_list", cel.StringType),
		cel.Variable("company", cel.StringType),
		cel.Variable("warehouse", cel.StringType),
		cel.Variable("origin", cel.StringType),
		cel.Variable("transaction_date", cel.StringType),
	)
	if err != nil {
		// The environment is built from static declarations; failure here
		// is a programming error.
		panic(err)
	}
	return &conditionEvaluator{
		env:      env,
		logger:   logger,
		programs: make(map[string]cel.Program),
	}
}

// filterByCondition drops candidates whose condition expression does not
// evaluate to true. Expression failures exclude the rule rather than
// surfacing an error, but are logged so misconfigured rules are not lost
// silently.
func (e *Engine) filterByCondition(candidates []domain.Rule, lc *domain.OrderLineContext) []domain.Rule {
	out := candidates[:0]
	for _, r := range candidates {
		if r.Condition == "" || e.cond.eval(&r, lc) {
			out = append(out, r)
		}
	}
	return out
}

func (ce *conditionEvaluator) eval(rule *domain.Rule, lc *domain.OrderLineContext) bool {
	prg, err := ce.program(rule)
	if err != nil {
		ce.logger.Warn("pricing rule condition failed to compile, rule excluded",
			slog.String("rule_id", rule.ID),
			slog.String("condition", rule.Condition),
			slog.String("error", err.Error()),
		)
		return false
	}

	out, _, err := prg.Eval(map[string]any{
		"item_code":        lc.ItemCode,
		"item_group":       lc.ItemGroup,
		"brand":            lc.Brand,
		"qty":              lc.Qty,
		"stock_qty":        lc.EffectiveStockQty(),
		"price_list_rate":  lc.PriceListRate,
		"amount":           lc.Amount(),
		"customer":         lc.Customer,
		"customer_group":   lc.CustomerGroup,
		"territory":        lc.Territory,
		"supplier":         lc.Supplier,
		"supplier_group":   lc.SupplierGroup,
		"currency":         lc.Currency,
		"price_list":       lc.PriceList,
		"company":          lc.Company,
		"warehouse":        lc.Warehouse,
		"origin":           lc.Origin,
		"transaction_date": lc.TransactionDate.Format("2006-01-02"),
	})
	if err != nil {
		ce.logger.Warn("pricing rule condition failed to evaluate, rule excluded",
			slog.String("rule_id", rule.ID),
			slog.String("condition", rule.Condition),
			slog.String("error", err.Error()),
		)
		return false
	}

	pass, ok := out.Value().(bool)
	if !ok {
		ce.logger.Warn("pricing rule condition is not boolean, rule excluded",
			slog.String("rule_id", rule.ID),
			slog.String("condition", rule.Condition),
		)
		return false
	}
	return pass
}

func (ce *conditionEvaluator) program(rule *domain.Rule) (cel.Program, error) {
	key := rule.ID + "\x00" + rule.Condition

	ce.mu.RLock()
	prg, ok := ce.programs[key]
	ce.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := ce.env.Compile(rule.Condition)
	if iss.Err() != nil {
		return nil, iss.Err()
	}
	prg, err := ce.env.Program(ast)
	if err != nil {
		return nil, err
	}

	ce.mu.Lock()
	ce.programs[key] = prg
	ce.mu.Unlock()
	return prg, nil
}
