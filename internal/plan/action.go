package plan

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/icm/internal/record"
)

// Default payloads used when a plan omits them.
var (
	DefaultBoostFactor = decimal.RequireFromString("1.5")
	DefaultCapLimit    = decimal.NewFromInt(10000)
)

// ActionKind names a custom rule action on the wire.
type ActionKind string

const (
	ActionQualify    ActionKind = "Qualify"
	ActionDisqualify ActionKind = "Disqualify"
	ActionBoost      ActionKind = "Boost"
	ActionCap        ActionKind = "Cap"
)

// Action is the sealed set of custom rule actions. Each variant carries
// exactly the payload it needs; consumers switch on the concrete type.
type Action interface {
	Kind() ActionKind
	sealed()
}

// Qualify marks a record as qualified. It has no numeric effect.
type Qualify struct{}

// Disqualify removes a record once all rules for it have run.
type Disqualify struct{}

// Boost multiplies the record amount by Factor. A nil Factor means
// DefaultBoostFactor; an explicit zero is kept.
type Boost struct {
	Factor *decimal.Decimal
}

// BoostBy returns a Boost with an explicit factor.
func BoostBy(factor decimal.Decimal) Boost {
	return Boost{Factor: &factor}
}

// Multiplier returns the factor in effect.
func (b Boost) Multiplier() decimal.Decimal {
	if b.Factor == nil {
		return DefaultBoostFactor
	}
	return *b.Factor
}

// Cap clamps the record amount to Limit when it exceeds it. A nil Limit
// means DefaultCapLimit.
type Cap struct {
	Limit *decimal.Decimal
}

// CapAt returns a Cap with an explicit limit.
func CapAt(limit decimal.Decimal) Cap {
	return Cap{Limit: &limit}
}

// Ceiling returns the limit in effect.
func (c Cap) Ceiling() decimal.Decimal {
	if c.Limit == nil {
		return DefaultCapLimit
	}
	return *c.Limit
}

func (Qualify) Kind() ActionKind    { return ActionQualify }
func (Disqualify) Kind() ActionKind { return ActionDisqualify }
func (Boost) Kind() ActionKind      { return ActionBoost }
func (Cap) Kind() ActionKind        { return ActionCap }

func (Qualify) sealed()    {}
func (Disqualify) sealed() {}
func (Boost) sealed()      {}
func (Cap) sealed()        {}

// CustomRule is a named, independently toggleable rule with one condition
// and one action.
type CustomRule struct {
	Name      string `validate:"required"`
	Condition record.Condition
	Action    Action `validate:"required"`
	Active    bool
}

// customRuleDoc is the document form of a custom rule. Boost reads its
// factor from Factor. Cap reads Limit, then the numeric condition value.
// Absent payloads stay nil so Normalize can tell them from an explicit 0.
type customRuleDoc struct {
	Name      string           `json:"name" yaml:"name"`
	Condition record.Condition `json:"condition" yaml:"condition"`
	Action    ActionKind       `json:"action" yaml:"action"`
	Factor    *decimal.Decimal `json:"factor,omitempty" yaml:"factor,omitempty"`
	Limit     *decimal.Decimal `json:"limit,omitempty" yaml:"limit,omitempty"`
	Active    *bool            `json:"active,omitempty" yaml:"active,omitempty"`
}

func (d customRuleDoc) toRule() (CustomRule, error) {
	rule := CustomRule{
		Name:      d.Name,
		Condition: d.Condition,
		Active:    d.Active == nil || *d.Active,
	}

	switch d.Action {
	case ActionQualify:
		rule.Action = Qualify{}
	case ActionDisqualify:
		rule.Action = Disqualify{}
	case ActionBoost:
		rule.Action = Boost{Factor: d.Factor}
	case ActionCap:
		c := Cap{Limit: d.Limit}
		if c.Limit == nil {
			if limit, ok := d.Condition.Value.Decimal(); ok {
				c.Limit = &limit
			}
		}
		rule.Action = c
	default:
		return CustomRule{}, fmt.Errorf("custom rule %q: unknown action %q", d.Name, d.Action)
	}
	return rule, nil
}

func (r CustomRule) toDoc() customRuleDoc {
	active := r.Active
	doc := customRuleDoc{
		Name:      r.Name,
		Condition: r.Condition,
		Active:    &active,
	}
	if r.Action != nil {
		doc.Action = r.Action.Kind()
	}
	switch a := r.Action.(type) {
	case Boost:
		doc.Factor = a.Factor
	case Cap:
		doc.Limit = a.Limit
	}
	return doc
}

// MarshalJSON encodes the rule in its document form.
func (r CustomRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toDoc())
}

// UnmarshalJSON decodes the document form and resolves the action variant.
func (r *CustomRule) UnmarshalJSON(data []byte) error {
	var doc customRuleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	rule, err := doc.toRule()
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

// MarshalYAML encodes the rule in its document form.
func (r CustomRule) MarshalYAML() (any, error) {
	return r.toDoc(), nil
}

// UnmarshalYAML decodes the document form and resolves the action variant.
func (r *CustomRule) UnmarshalYAML(node *yaml.Node) error {
	var doc customRuleDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}
	rule, err := doc.toRule()
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*r = rule
	return nil
}
