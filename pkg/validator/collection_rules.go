package validator

func RequiredSlice[T any](field string, value []T) Rule {
	return Rule{
		Check: func() bool {
			return len(value) > 0
		},
		Error: ValidationError{
			Field:          field,
			Message:        "must contain at least one item",
			TranslationKey: "validation.required",
			TranslationValues: map[string]any{
				"field": field,
			},
		},
	}
}

// Each applies check to every element and fails on the first miss.
func Each[T any](field string, value []T, message string, check func(T) bool) Rule {
	return Custom(field, message, func() bool {
		for _, v := range value {
			if !check(v) {
				return false
			}
		}
		return true
	})
}
