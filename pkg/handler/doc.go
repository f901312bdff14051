// Package handler turns typed request handlers into http.HandlerFunc values.
//
// A HandlerFunc receives a bound request struct and returns a Response:
//
//	type statsRequest struct {
//	    Fresh bool `query:"fresh"`
//	}
//
//	stats := func(ctx handler.Context, req statsRequest) handler.Response {
//	    snapshot, err := collector.Collect(ctx)
//	    if err != nil {
//	        return handler.JSONError(err)
//	    }
//	    return handler.JSON(snapshot)
//	}
//
//	r.Get("/stats", handler.Wrap(stats,
//	    handler.WithBinders[handler.Context, statsRequest](binder.Query()),
//	))
//
// JSON bodies use a single envelope with data, meta and error members.
// Binding and rendering failures go to the ErrorHandler, which answers with
// the same envelope by default.
package handler
