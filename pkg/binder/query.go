package binder

import "net/http"

// Query creates a query parameter binder.
//
// Fields are matched by their `query:"name"` tag, or by their lower-cased
// name without one. `query:"-"` skips a field. Absent parameters leave the
// field untouched.
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", r.URL.Query(), ErrFailedToParseQuery)
	}
}
