package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orchardlane/pricing/internal/domain"
	pkgkafka "github.com/orchardlane/pricing/pkg/kafka"
	"github.com/orchardlane/pricing/pkg/logger"
)

// Kafka topics for pricing domain events.
var (
	TopicRuleCreated         = pkgkafka.Topic("rule", "created")
	TopicRuleUpdated         = pkgkafka.Topic("rule", "updated")
	TopicRuleDeleted         = pkgkafka.Topic("rule", "deleted")
	TopicRuleApplied         = pkgkafka.Topic("rule", "applied")
	TopicRuleRemoved         = pkgkafka.Topic("rule", "removed")
	TopicRuleConflict        = pkgkafka.Topic("rule", "conflict")
	TopicCouponCreated       = pkgkafka.Topic("coupon", "created")
	TopicCouponUsageCommit   = pkgkafka.Topic("coupon", "usage_committed")
	TopicCouponUsageReleased = pkgkafka.Topic("coupon", "usage_released")
)

// Aggregate type constants.
const (
	AggregateTypeRule   = "pricing_rule"
	AggregateTypeCoupon = "coupon"
)

// Source identifier for events originating from the pricing service.
const SourcePricingService = "pricing-service"

// RuleEventData is the payload for rule lifecycle events.
type RuleEventData struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	ApplyOn        string `json:"apply_on"`
	PriceOrProduct string `json:"price_or_product"`
	CouponBased    bool   `json:"coupon_based"`
	Disabled       bool   `json:"disabled"`
}

// RuleResolutionData is the payload for rule.applied and rule.removed
// events emitted during order evaluation.
type RuleResolutionData struct {
	ItemCode string   `json:"item_code"`
	OrderID  string   `json:"order_id,omitempty"`
	RuleIDs  []string `json:"rule_ids"`
}

// RuleConflictData is the payload for a rule.conflict event.
type RuleConflictData struct {
	ItemCode string   `json:"item_code"`
	OrderID  string   `json:"order_id,omitempty"`
	RuleIDs  []string `json:"rule_ids"`
}

// CouponEventData is the payload for coupon lifecycle and usage events.
type CouponEventData struct {
	ID         string   `json:"id,omitempty"`
	Code       string   `json:"code"`
	RuleIDs    []string `json:"rule_ids,omitempty"`
	OrderID    string   `json:"order_id,omitempty"`
	MaximumUse int      `json:"maximum_use,omitempty"`
}

// Producer publishes pricing domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the pricing service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// newEvent builds the envelope and stamps the request correlation ID, when
// present, so consumers can trace an event back to the originating request.
func newEvent(ctx context.Context, topic, aggregateID, aggregateType string, data any) (*pkgkafka.Event, error) {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourcePricingService, data)
	if err != nil {
		return nil, err
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	return event, nil
}

func (p *Producer) publishRule(ctx context.Context, topic string, rule *domain.Rule) error {
	data := RuleEventData{
		ID:             rule.ID,
		Title:          rule.Title,
		ApplyOn:        rule.ApplyOn,
		PriceOrProduct: rule.PriceOrProduct,
		CouponBased:    rule.CouponBased,
		Disabled:       rule.Disabled,
	}

	event, err := newEvent(ctx, topic, rule.ID, AggregateTypeRule, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published rule event",
		slog.String("topic", topic),
		slog.String("rule_id", rule.ID),
	)

	return nil
}

// PublishRuleCreated publishes a rule.created event.
func (p *Producer) PublishRuleCreated(ctx context.Context, rule *domain.Rule) error {
	return p.publishRule(ctx, TopicRuleCreated, rule)
}

// PublishRuleUpdated publishes a rule.updated event.
func (p *Producer) PublishRuleUpdated(ctx context.Context, rule *domain.Rule) error {
	return p.publishRule(ctx, TopicRuleUpdated, rule)
}

// PublishRuleDeleted publishes a rule.deleted event.
func (p *Producer) PublishRuleDeleted(ctx context.Context, rule *domain.Rule) error {
	return p.publishRule(ctx, TopicRuleDeleted, rule)
}

func (p *Producer) publishResolution(ctx context.Context, topic, itemCode, orderID string, ruleIDs []string) error {
	data := RuleResolutionData{
		ItemCode: itemCode,
		OrderID:  orderID,
		RuleIDs:  ruleIDs,
	}

	event, err := newEvent(ctx, topic, itemCode, AggregateTypeRule, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

// PublishRulesApplied publishes a rule.applied event for one evaluated line.
func (p *Producer) PublishRulesApplied(ctx context.Context, itemCode, orderID string, ruleIDs []string) error {
	return p.publishResolution(ctx, TopicRuleApplied, itemCode, orderID, ruleIDs)
}

// PublishRulesRemoved publishes a rule.removed event when an evaluation
// cleared previously applied rules from a line.
func (p *Producer) PublishRulesRemoved(ctx context.Context, itemCode, orderID string, ruleIDs []string) error {
	return p.publishResolution(ctx, TopicRuleRemoved, itemCode, orderID, ruleIDs)
}

// PublishRuleConflict publishes a rule.conflict event so operators can spot
// ambiguous rule sets that need distinct priorities.
func (p *Producer) PublishRuleConflict(ctx context.Context, itemCode, orderID string, ruleIDs []string) error {
	data := RuleConflictData{
		ItemCode: itemCode,
		OrderID:  orderID,
		RuleIDs:  ruleIDs,
	}

	event, err := newEvent(ctx, TopicRuleConflict, itemCode, AggregateTypeRule, data)
	if err != nil {
		return fmt.Errorf("create rule.conflict event: %w", err)
	}
	if err := p.kafka.Publish(ctx, TopicRuleConflict, event); err != nil {
		return fmt.Errorf("publish rule.conflict event: %w", err)
	}

	p.logger.DebugContext(ctx, "published rule.conflict event",
		slog.String("item_code", itemCode),
		slog.Any("rule_ids", ruleIDs),
	)

	return nil
}

// PublishCouponCreated publishes a coupon.created event.
func (p *Producer) PublishCouponCreated(ctx context.Context, coupon *domain.Coupon) error {
	data := CouponEventData{
		ID:         coupon.ID,
		Code:       coupon.Code,
		RuleIDs:    coupon.RuleIDs,
		MaximumUse: coupon.MaximumUse,
	}

	event, err := newEvent(ctx, TopicCouponCreated, coupon.ID, AggregateTypeCoupon, data)
	if err != nil {
		return fmt.Errorf("create coupon.created event: %w", err)
	}
	if err := p.kafka.Publish(ctx, TopicCouponCreated, event); err != nil {
		return fmt.Errorf("publish coupon.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published coupon.created event",
		slog.String("coupon_id", coupon.ID),
		slog.String("code", coupon.Code),
	)

	return nil
}

// PublishCouponUsage publishes a usage_committed or usage_released event.
func (p *Producer) PublishCouponUsage(ctx context.Context, topic, code, orderID string) error {
	data := CouponEventData{
		Code:    code,
		OrderID: orderID,
	}

	event, err := newEvent(ctx, topic, code, AggregateTypeCoupon, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published coupon usage event",
		slog.String("topic", topic),
		slog.String("code", code),
		slog.String("order_id", orderID),
	)

	return nil
}
