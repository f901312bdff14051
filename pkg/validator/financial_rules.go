package validator

import (
	"fmt"
	"regexp"
)

var currencyCodeRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// PositiveAmount fails for zero or negative values.
func PositiveAmount[T Numeric](field string, value T) Rule {
	return Rule{
		Check: func() bool {
			return value > 0
		},
		Error: ValidationError{
			Field:          field,
			Message:        "must be greater than zero",
			TranslationKey: "validation.positive_amount",
			TranslationValues: map[string]any{
				"field": field,
			},
		},
	}
}

// NonNegativeAmount fails for negative values.
func NonNegativeAmount[T Numeric](field string, value T) Rule {
	return Rule{
		Check: func() bool {
			return value >= 0
		},
		Error: ValidationError{
			Field:          field,
			Message:        "must not be negative",
			TranslationKey: "validation.non_negative_amount",
			TranslationValues: map[string]any{
				"field": field,
			},
		},
	}
}

// AmountRange fails when value is outside [min, max].
func AmountRange[T Numeric](field string, value T, min T, max T) Rule {
	return Rule{
		Check: func() bool {
			return value >= min && value <= max
		},
		Error: ValidationError{
			Field:          field,
			Message:        fmt.Sprintf("must be between %v and %v", min, max),
			TranslationKey: "validation.amount_range",
			TranslationValues: map[string]any{
				"field": field,
				"min":   min,
				"max":   max,
			},
		},
	}
}

// ValidCurrencyCode fails unless value is a three-letter upper-case ISO 4217 code.
func ValidCurrencyCode(field, value string) Rule {
	return Rule{
		Check: func() bool {
			return currencyCodeRegex.MatchString(value)
		},
		Error: ValidationError{
			Field:          field,
			Message:        "must be a 3-letter ISO 4217 currency code",
			TranslationKey: "validation.currency_code",
			TranslationValues: map[string]any{
				"field": field,
			},
		},
	}
}
