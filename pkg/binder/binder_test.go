package binder_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/marketjobs/pkg/binder"
)

func TestQuery(t *testing.T) {
	t.Parallel()

	type listRequest struct {
		Queue    string    `query:"queue"`
		Since    time.Time `query:"since"`
		Limit    *int      `query:"limit"`
		Offset   int       `query:"offset"`
		Fresh    bool      `query:"fresh"`
		Types    []string  `query:"type"`
		Internal string    `query:"-"`
	}

	t.Run("binds tagged fields", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet,
			"/dead-letters?queue=email&since=2025-03-10T12:00:00Z&limit=20&offset=5&fresh=yes&type=a,b&type=c&internal=x", nil)

		var got listRequest
		require.NoError(t, binder.Query()(req, &got))
		assert.Equal(t, "email", got.Queue)
		assert.True(t, got.Since.Equal(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)))
		require.NotNil(t, got.Limit)
		assert.Equal(t, 20, *got.Limit)
		assert.Equal(t, 5, got.Offset)
		assert.True(t, got.Fresh)
		assert.Equal(t, []string{"a", "b", "c"}, got.Types)
		assert.Empty(t, got.Internal)
	})

	t.Run("absent parameters keep defaults", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/dead-letters", nil)

		got := listRequest{Offset: 7}
		require.NoError(t, binder.Query()(req, &got))
		assert.Nil(t, got.Limit)
		assert.Equal(t, 7, got.Offset)
		assert.True(t, got.Since.IsZero())
	})

	t.Run("malformed values", func(t *testing.T) {
		t.Parallel()
		for _, target := range []string{
			"/?limit=abc",
			"/?since=yesterday",
			"/?fresh=maybe",
		} {
			var got listRequest
			err := binder.Query()(httptest.NewRequest(http.MethodGet, target, nil), &got)
			assert.ErrorIs(t, err, binder.ErrFailedToParseQuery, target)
		}
	})

	t.Run("target must be a struct pointer", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		var s string
		assert.ErrorIs(t, binder.Query()(req, &s), binder.ErrFailedToParseQuery)
		assert.ErrorIs(t, binder.Query()(req, listRequest{}), binder.ErrFailedToParseQuery)
	})
}

func TestPath(t *testing.T) {
	t.Parallel()

	type recordRequest struct {
		ID  uuid.UUID `path:"id"`
		Key string    `path:"key"`
	}

	route := func(pattern, target string, bind func(*http.Request, any) error) (recordRequest, error) {
		var (
			got recordRequest
			err error
		)
		r := chi.NewRouter()
		r.Get(pattern, func(w http.ResponseWriter, req *http.Request) {
			err = bind(req, &got)
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
		return got, err
	}

	t.Run("chi url params", func(t *testing.T) {
		t.Parallel()
		id := uuid.New()

		got, err := route("/records/{id}/{key}", "/records/"+id.String()+"/daily-report", binder.Path(chi.URLParam))
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "daily-report", got.Key)
	})

	t.Run("invalid uuid", func(t *testing.T) {
		t.Parallel()

		_, err := route("/records/{id}", "/records/not-a-uuid", binder.Path(chi.URLParam))
		require.ErrorIs(t, err, binder.ErrFailedToParsePath)
		assert.Contains(t, err.Error(), "id")
	})

	t.Run("nil extractor", func(t *testing.T) {
		t.Parallel()

		var got recordRequest
		err := binder.Path(nil)(httptest.NewRequest(http.MethodGet, "/", nil), &got)
		assert.ErrorIs(t, err, binder.ErrFailedToParsePath)
	})
}
