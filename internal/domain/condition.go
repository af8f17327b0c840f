package domain

import (
	"encoding/json"
	"fmt"
)

// ConditionKind discriminates condition variants on the wire and in
// storage. In code the variants are a closed sum type: the matcher's
// type switch is exhaustive and an unknown kind is a decode error,
// never a silent no-match.
type ConditionKind string

const (
	KindMCCInclude          ConditionKind = "mcc-include"
	KindMCCExclude          ConditionKind = "mcc-exclude"
	KindMerchantName        ConditionKind = "merchant-name"
	KindOnlineOnly          ConditionKind = "online-only"
	KindContactlessOnly     ConditionKind = "contactless-only"
	KindForeignCurrencyOnly ConditionKind = "foreign-currency-only"
	KindAmountRange         ConditionKind = "amount-range"
	KindCurrency            ConditionKind = "currency"
	KindExpression          ConditionKind = "expression"
)

// Condition is one predicate of a reward rule. Implementations are the
// only variants; the unexported method keeps the union closed.
type Condition interface {
	Kind() ConditionKind
	condition()
}

// MCCInclude matches transactions whose merchant category code is in
// the listed codes.
type MCCInclude struct {
	Codes []string `json:"codes"`
}

// MCCExclude matches transactions whose merchant category code is not
// in the listed codes.
type MCCExclude struct {
	Codes []string `json:"codes"`
}

// MerchantName matches case-insensitively against the listed merchant
// names.
type MerchantName struct {
	Names []string `json:"names"`
}

// OnlineOnly matches online purchases.
type OnlineOnly struct{}

// ContactlessOnly matches contactless purchases.
type ContactlessOnly struct{}

// ForeignCurrencyOnly matches transactions whose purchase currency
// differs from the payment currency.
type ForeignCurrencyOnly struct{}

// AmountRange matches min <= amount <= max in the purchase currency.
// Either bound may be omitted.
type AmountRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// CurrencyIn matches transactions made in one of the listed currencies.
type CurrencyIn struct {
	Currencies []string `json:"currencies"`
}

// Expression matches when a CEL expression over the transaction's
// matchable attributes evaluates to true. The expression is compiled
// at rule-save time; a compile failure is a ValidationError.
type Expression struct {
	Expr string `json:"expr"`
}

func (MCCInclude) Kind() ConditionKind          { return KindMCCInclude }
func (MCCExclude) Kind() ConditionKind          { return KindMCCExclude }
func (MerchantName) Kind() ConditionKind        { return KindMerchantName }
func (OnlineOnly) Kind() ConditionKind          { return KindOnlineOnly }
func (ContactlessOnly) Kind() ConditionKind     { return KindContactlessOnly }
func (ForeignCurrencyOnly) Kind() ConditionKind { return KindForeignCurrencyOnly }
func (AmountRange) Kind() ConditionKind         { return KindAmountRange }
func (CurrencyIn) Kind() ConditionKind          { return KindCurrency }
func (Expression) Kind() ConditionKind          { return KindExpression }

func (MCCInclude) condition()          {}
func (MCCExclude) condition()          {}
func (MerchantName) condition()        {}
func (OnlineOnly) condition()          {}
func (ContactlessOnly) condition()     {}
func (ForeignCurrencyOnly) condition() {}
func (AmountRange) condition()         {}
func (CurrencyIn) condition()          {}
func (Expression) condition()          {}

// ConditionList carries the tagged JSON encoding for a rule's
// conditions, used both on the API and in the rule store.
type ConditionList []Condition

type conditionEnvelope struct {
	Kind       ConditionKind `json:"kind"`
	Codes      []string      `json:"codes,omitempty"`
	Names      []string      `json:"names,omitempty"`
	Currencies []string      `json:"currencies,omitempty"`
	Min        *float64      `json:"min,omitempty"`
	Max        *float64      `json:"max,omitempty"`
	Expr       string        `json:"expr,omitempty"`
}

// MarshalJSON encodes each condition as a {kind, ...fields} object.
func (l ConditionList) MarshalJSON() ([]byte, error) {
	envelopes := make([]conditionEnvelope, 0, len(l))
	for _, c := range l {
		env := conditionEnvelope{Kind: c.Kind()}
		switch v := c.(type) {
		case MCCInclude:
			env.Codes = v.Codes
		case MCCExclude:
			env.Codes = v.Codes
		case MerchantName:
			env.Names = v.Names
		case OnlineOnly, ContactlessOnly, ForeignCurrencyOnly:
		case AmountRange:
			env.Min, env.Max = v.Min, v.Max
		case CurrencyIn:
			env.Currencies = v.Currencies
		case Expression:
			env.Expr = v.Expr
		default:
			return nil, fmt.Errorf("unknown condition kind %q", c.Kind())
		}
		envelopes = append(envelopes, env)
	}
	return json.Marshal(envelopes)
}

// UnmarshalJSON decodes a list of tagged condition objects. An unknown
// kind is an error.
func (l *ConditionList) UnmarshalJSON(data []byte) error {
	var envelopes []conditionEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return err
	}

	conditions := make([]Condition, 0, len(envelopes))
	for _, env := range envelopes {
		switch env.Kind {
		case KindMCCInclude:
			conditions = append(conditions, MCCInclude{Codes: env.Codes})
		case KindMCCExclude:
			conditions = append(conditions, MCCExclude{Codes: env.Codes})
		case KindMerchantName:
			conditions = append(conditions, MerchantName{Names: env.Names})
		case KindOnlineOnly:
			conditions = append(conditions, OnlineOnly{})
		case KindContactlessOnly:
			conditions = append(conditions, ContactlessOnly{})
		case KindForeignCurrencyOnly:
			conditions = append(conditions, ForeignCurrencyOnly{})
		case KindAmountRange:
			conditions = append(conditions, AmountRange{Min: env.Min, Max: env.Max})
		case KindCurrency:
			conditions = append(conditions, CurrencyIn{Currencies: env.Currencies})
		case KindExpression:
			conditions = append(conditions, Expression{Expr: env.Expr})
		default:
			return fmt.Errorf("unknown condition kind %q", env.Kind)
		}
	}

	*l = conditions
	return nil
}

// validateCondition checks the fields each kind requires.
func validateCondition(c Condition) error {
	switch v := c.(type) {
	case MCCInclude:
		if len(v.Codes) == 0 {
			return fmt.Errorf("mcc-include requires at least one code")
		}
	case MCCExclude:
		if len(v.Codes) == 0 {
			return fmt.Errorf("mcc-exclude requires at least one code")
		}
	case MerchantName:
		if len(v.Names) == 0 {
			return fmt.Errorf("merchant-name requires at least one name")
		}
	case OnlineOnly, ContactlessOnly, ForeignCurrencyOnly:
	case AmountRange:
		if v.Min == nil && v.Max == nil {
			return fmt.Errorf("amount-range requires min or max")
		}
		if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
			return fmt.Errorf("amount-range min exceeds max")
		}
	case CurrencyIn:
		if len(v.Currencies) == 0 {
			return fmt.Errorf("currency requires at least one currency")
		}
	case Expression:
		if v.Expr == "" {
			return fmt.Errorf("expression requires a non-empty expr")
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind())
	}
	return nil
}
