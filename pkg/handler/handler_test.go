package handler_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/binder"
	"github.com/dmitrymomot/marketjobs/pkg/handler"
	"github.com/dmitrymomot/marketjobs/pkg/validator"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) handler.JSONResponse {
	t.Helper()
	var got handler.JSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return got
}

func TestJSON(t *testing.T) {
	t.Parallel()

	t.Run("data with meta and status", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()

		resp := handler.JSON(map[string]string{"job_id": "123"},
			handler.WithJSONStatus(http.StatusAccepted),
			handler.WithJSONMeta(map[string]any{"limit": 50}),
		)
		require.NoError(t, resp.Render(w, httptest.NewRequest(http.MethodGet, "/", nil)))

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Equal(t, handler.JSONResponse{
			Data: map[string]any{"job_id": "123"},
			Meta: map[string]any{"limit": float64(50)},
		}, decode(t, w))
	})

	t.Run("error value becomes error body", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()

		require.NoError(t, handler.JSON(errors.New("boom")).Render(w, httptest.NewRequest(http.MethodGet, "/", nil)))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, &handler.ErrorDetail{Code: "internal_error", Message: "boom"}, decode(t, w).Error)
	})
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"http error", handler.ErrNotFound, http.StatusNotFound, "not_found", "Not Found"},
		{"classified cause", handler.WithStatus(handler.ErrConflict, errors.New("already replayed")), http.StatusConflict, "conflict", "already replayed"},
		{"wrapped http error", fmt.Errorf("lookup: %w", handler.ErrServiceUnavailable), http.StatusServiceUnavailable, "service_unavailable", "Service Unavailable"},
		{"plain error", errors.New("disk full"), http.StatusInternalServerError, "internal_error", "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()

			require.NoError(t, handler.JSONError(tt.err).Render(w, httptest.NewRequest(http.MethodGet, "/", nil)))
			assert.Equal(t, tt.status, w.Code)
			got := decode(t, w)
			require.NotNil(t, got.Error)
			assert.Equal(t, tt.code, got.Error.Code)
			assert.Equal(t, tt.message, got.Error.Message)
			assert.Nil(t, got.Data)
		})
	}

	t.Run("validation errors", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()

		err := validator.Apply(
			validator.PositiveAmount("limit", 0),
			validator.NonNegativeAmount("offset", -1),
		)
		require.NoError(t, handler.JSONError(err).Render(w, httptest.NewRequest(http.MethodGet, "/", nil)))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		got := decode(t, w)
		require.NotNil(t, got.Error)
		assert.Equal(t, "validation_error", got.Error.Code)
		assert.Equal(t, []string{"must be greater than zero"}, got.Error.Details["limit"])
		assert.Equal(t, []string{"must not be negative"}, got.Error.Details["offset"])
	})
}

func TestWrap(t *testing.T) {
	t.Parallel()

	type request struct {
		Name  string `query:"name"`
		Count int    `query:"count"`
	}

	greet := func(ctx handler.Context, req request) handler.Response {
		if req.Name == "" {
			return handler.JSONError(validator.Apply(validator.Required("name", req.Name)))
		}
		return handler.JSON(map[string]any{"name": req.Name, "count": req.Count, "path": ctx.Request().URL.Path})
	}
	h := handler.Wrap(greet, handler.WithBinders[handler.Context, request](binder.Query()))

	t.Run("binds and renders", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/greet?name=ann&count=2", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"name": "ann", "count": float64(2), "path": "/greet"}, decode(t, w).Data)
	})

	t.Run("binding failure is a bad request", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/greet?name=ann&count=two", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		got := decode(t, w)
		require.NotNil(t, got.Error)
		assert.Equal(t, "bad_request", got.Error.Code)
		assert.Contains(t, got.Error.Message, "count")
	})

	t.Run("handler validation", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/greet", nil))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("nil response goes to the error handler", func(t *testing.T) {
		t.Parallel()
		var reported error
		nilHandler := handler.Wrap(
			func(handler.Context, request) handler.Response { return nil },
			handler.WithErrorHandler[handler.Context, request](func(ctx handler.Context, err error) {
				reported = err
				ctx.ResponseWriter().WriteHeader(http.StatusTeapot)
			}),
		)

		w := httptest.NewRecorder()
		nilHandler(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.ErrorIs(t, reported, handler.ErrNilResponse)
		assert.Equal(t, http.StatusTeapot, w.Code)
	})
}
