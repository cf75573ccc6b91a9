package domain

import (
	"encoding/json"
	"fmt"
)

type ConditionKind string

const (
	ConditionKindAnd   ConditionKind = "and"
	ConditionKindOr    ConditionKind = "or"
	ConditionKindNot   ConditionKind = "not"
	ConditionKindMatch ConditionKind = "match"
)

type MatchField string

const (
	MatchFieldSubject     MatchField = "subject"
	MatchFieldFromAddress MatchField = "fromAddress"
	MatchFieldToAddress   MatchField = "toAddress"
	MatchFieldTextBody    MatchField = "textBody"
)

type MatchOperator string

const (
	MatchOperatorContains   MatchOperator = "contains"
	MatchOperatorEquals     MatchOperator = "equals"
	MatchOperatorStartsWith MatchOperator = "startsWith"
	MatchOperatorEndsWith   MatchOperator = "endsWith"
	MatchOperatorRegex      MatchOperator = "regex"
)

// Condition is the recursive boolean grammar shared by condition:match
// workflow nodes and forward rules. Exactly one variant is populated,
// selected by Kind.
type Condition struct {
	Kind ConditionKind

	// and / or
	Conditions []Condition

	// not
	Condition *Condition

	// match
	Field         MatchField
	Operator      MatchOperator
	Value         string
	CaseSensitive bool
}

func And(conditions ...Condition) Condition {
	return Condition{Kind: ConditionKindAnd, Conditions: conditions}
}

func Or(conditions ...Condition) Condition {
	return Condition{Kind: ConditionKindOr, Conditions: conditions}
}

func Not(condition Condition) Condition {
	return Condition{Kind: ConditionKindNot, Condition: &condition}
}

func Match(field MatchField, operator MatchOperator, value string) Condition {
	return Condition{Kind: ConditionKindMatch, Field: field, Operator: operator, Value: value}
}

func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionKindAnd, ConditionKindOr:
		for _, child := range c.Conditions {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil

	case ConditionKindNot:
		if c.Condition == nil {
			return fmt.Errorf("%w: not condition requires a child", ErrConfigValidation)
		}
		return c.Condition.Validate()

	case ConditionKindMatch:
		switch c.Field {
		case MatchFieldSubject, MatchFieldFromAddress, MatchFieldToAddress, MatchFieldTextBody:
		default:
			return fmt.Errorf("%w: unknown match field %q", ErrConfigValidation, c.Field)
		}
		switch c.Operator {
		case MatchOperatorContains, MatchOperatorEquals, MatchOperatorStartsWith,
			MatchOperatorEndsWith, MatchOperatorRegex:
		default:
			return fmt.Errorf("%w: unknown match operator %q", ErrConfigValidation, c.Operator)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown condition type %q", ErrConfigValidation, c.Kind)
	}
}

type conditionJSON struct {
	Type          ConditionKind `json:"type"`
	Conditions    []Condition   `json:"conditions,omitempty"`
	Condition     *Condition    `json:"condition,omitempty"`
	Field         MatchField    `json:"field,omitempty"`
	Operator      MatchOperator `json:"operator,omitempty"`
	Value         *string       `json:"value,omitempty"`
	CaseSensitive bool          `json:"caseSensitive,omitempty"`
}

func (c Condition) MarshalJSON() ([]byte, error) {
	out := conditionJSON{Type: c.Kind}

	switch c.Kind {
	case ConditionKindAnd, ConditionKindOr:
		conditions := c.Conditions
		if conditions == nil {
			conditions = []Condition{}
		}
		out.Conditions = conditions

	case ConditionKindNot:
		out.Condition = c.Condition

	case ConditionKindMatch:
		out.Field = c.Field
		out.Operator = c.Operator
		value := c.Value
		out.Value = &value
		out.CaseSensitive = c.CaseSensitive
	}

	return json.Marshal(out)
}

// UnmarshalJSON rejects unknown variants at parse time so that evaluation
// never sees a condition it does not understand.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw conditionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}

	parsed := Condition{Kind: raw.Type}

	switch raw.Type {
	case ConditionKindAnd, ConditionKindOr:
		parsed.Conditions = raw.Conditions

	case ConditionKindNot:
		if raw.Condition == nil {
			return fmt.Errorf("%w: not condition requires a child", ErrConfigValidation)
		}
		parsed.Condition = raw.Condition

	case ConditionKindMatch:
		parsed.Field = raw.Field
		parsed.Operator = raw.Operator
		if raw.Value != nil {
			parsed.Value = *raw.Value
		}
		parsed.CaseSensitive = raw.CaseSensitive

	default:
		return fmt.Errorf("%w: unknown condition type %q", ErrConfigValidation, raw.Type)
	}

	if err := parsed.Validate(); err != nil {
		return err
	}

	*c = parsed
	return nil
}
