package domain

import (
	"errors"
	"fmt"
)

// ErrConversionUnavailable means no rate exists for a currency pair.
// The simulator treats it as "exclude this card from the comparison",
// never as a fatal error.
var ErrConversionUnavailable = errors.New("conversion rate unavailable")

// ValidationError rejects a malformed rule or condition at save time,
// keeping it out of the runtime evaluation path.
type ValidationError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("invalid rule: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid rule %s: %s %s", e.RuleID, e.Field, e.Reason)
}

// IsValidationError reports whether err is a rule ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
