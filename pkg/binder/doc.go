// Package binder fills request structs from query strings and path
// parameters. Binders are plain functions of the form
//
//	func(r *http.Request, v any) error
//
// so they plug straight into handler.Wrap:
//
//	type replayRequest struct {
//	    ID    uuid.UUID `path:"id"`
//	    Force bool      `query:"force"`
//	}
//
//	r.Post("/dead-letters/{id}/replay", handler.Wrap(replay,
//	    handler.WithBinders[handler.Context, replayRequest](
//	        binder.Path(chi.URLParam),
//	        binder.Query(),
//	    ),
//	))
//
// Basic kinds, their pointers and slices are supported, as is any type that
// implements encoding.TextUnmarshaler (time.Time as RFC 3339, uuid.UUID).
package binder
