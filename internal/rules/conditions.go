package rules

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/tally/internal/domain"
)

// matchCondition evaluates one condition against a transaction. The
// type switch covers every variant of the closed union; reaching the
// default arm means a new kind was added without a matcher arm.
func (m *Matcher) matchCondition(c domain.Condition, tx *domain.Transaction) (bool, error) {
	switch v := c.(type) {
	case domain.MCCInclude:
		return containsString(v.Codes, tx.Merchant.MCC), nil

	case domain.MCCExclude:
		return !containsString(v.Codes, tx.Merchant.MCC), nil

	case domain.MerchantName:
		for _, name := range v.Names {
			if strings.EqualFold(name, tx.Merchant.Name) {
				return true, nil
			}
		}
		return false, nil

	case domain.OnlineOnly:
		return tx.Merchant.IsOnline, nil

	case domain.ContactlessOnly:
		return tx.IsContactless, nil

	case domain.ForeignCurrencyOnly:
		return tx.Currency != tx.PaymentCurrency, nil

	case domain.AmountRange:
		if v.Min != nil && tx.Amount < *v.Min {
			return false, nil
		}
		if v.Max != nil && tx.Amount > *v.Max {
			return false, nil
		}
		return true, nil

	case domain.CurrencyIn:
		return containsString(v.Currencies, tx.Currency), nil

	case domain.Expression:
		return m.evalExpression(v.Expr, tx)

	default:
		return false, fmt.Errorf("unhandled condition kind %q", c.Kind())
	}
}

// evalExpression runs a compiled CEL program over the transaction's
// matchable attributes. Programs are compiled once per expression.
func (m *Matcher) evalExpression(expr string, tx *domain.Transaction) (bool, error) {
	program, err := m.program(expr)
	if err != nil {
		return false, err
	}

	activation := map[string]any{
		"amount":           tx.Amount,
		"payment_amount":   tx.PaymentAmount,
		"currency":         tx.Currency,
		"payment_currency": tx.PaymentCurrency,
		"mcc":              tx.Merchant.MCC,
		"merchant":         tx.Merchant.Name,
		"online":           tx.Merchant.IsOnline,
		"contactless":      tx.IsContactless,
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed: %w", err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool")
	}
	return bool(b), nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
