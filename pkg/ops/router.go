package ops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/marketjobs/pkg/binder"
	"github.com/dmitrymomot/marketjobs/pkg/deadletter"
	"github.com/dmitrymomot/marketjobs/pkg/handler"
	"github.com/dmitrymomot/marketjobs/pkg/httpserver"
	"github.com/dmitrymomot/marketjobs/pkg/logger"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
	"github.com/dmitrymomot/marketjobs/pkg/validator"
)

const (
	defaultPageSize     = 50
	defaultMaxPageSize  = 500
	defaultReadyTimeout = 3 * time.Second
)

type router struct {
	stats        StatsSource
	store        queue.DeadLetterStore
	replayer     deadletter.Replayer
	schedules    ScheduleSource
	checks       []httpserver.Check
	readyTimeout time.Duration
	maxLimit     int
	log          *slog.Logger
	now          func() time.Time
}

// NewRouter builds the ops router. Endpoints whose dependencies were not
// supplied answer 404.
func NewRouter(opts ...Option) chi.Router {
	h := &router{
		readyTimeout: defaultReadyTimeout,
		maxLimit:     defaultMaxPageSize,
		log:          logger.Discard(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(h.log, h.readyTimeout, h.checks...))

	if h.stats != nil {
		r.Get("/stats", wrap(h, h.getStats, binder.Query()))
	}
	if h.store != nil {
		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", wrap(h, h.listDeadLetters, binder.Query()))
			r.Get("/{id}", wrap(h, h.getDeadLetter, binder.Path(chi.URLParam)))
			if h.replayer != nil {
				r.Post("/{id}/replay", wrap(h, h.replayDeadLetter, binder.Path(chi.URLParam), binder.Query()))
			}
		})
	}
	if h.schedules != nil {
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", wrap(h, h.listSchedules))
			r.Post("/{key}/fire", wrap(h, h.fireSchedule, binder.Path(chi.URLParam)))
		})
	}
	return r
}

func wrap[R any](h *router, fn handler.HandlerFunc[handler.Context, R], binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(fn,
		handler.WithBinders[handler.Context, R](binders...),
		handler.WithErrorHandler[handler.Context, R](h.handleError),
	)
}

type statsRequest struct {
	Fresh bool `query:"fresh"`
}

type statsResponse struct {
	Queues []queue.QueueStats `json:"queues"`
}

func (h *router) getStats(ctx handler.Context, req statsRequest) handler.Response {
	stats := h.stats.Latest()
	if len(stats) == 0 || req.Fresh {
		fresh, err := h.stats.Collect(ctx)
		if err != nil {
			return h.fail(ctx, "failed to collect queue stats", handler.WithStatus(handler.ErrServiceUnavailable, err))
		}
		stats = fresh
	}
	return handler.JSON(statsResponse{Queues: stats})
}

type listRequest struct {
	Queue  string    `query:"queue"`
	Since  time.Time `query:"since"`
	Limit  *int      `query:"limit"`
	Offset int       `query:"offset"`
}

func (h *router) listDeadLetters(ctx handler.Context, req listRequest) handler.Response {
	limit := defaultPageSize
	if req.Limit != nil {
		limit = *req.Limit
	}
	if err := validator.Apply(
		validator.PositiveAmount("limit", limit),
		validator.NonNegativeAmount("offset", req.Offset),
	); err != nil {
		return handler.JSONError(err)
	}

	filter := queue.DeadLetterFilter{
		Queue:  req.Queue,
		Since:  req.Since,
		Limit:  min(limit, h.maxLimit),
		Offset: req.Offset,
	}
	recs, err := h.store.List(ctx, filter)
	if err != nil {
		return h.fail(ctx, "failed to list dead letters", err)
	}
	if recs == nil {
		recs = []queue.DeadLetterRecord{}
	}
	return handler.JSON(recs, handler.WithJSONMeta(map[string]any{
		"limit":  filter.Limit,
		"offset": filter.Offset,
	}))
}

type recordRequest struct {
	ID uuid.UUID `path:"id"`
}

func (h *router) getDeadLetter(ctx handler.Context, req recordRequest) handler.Response {
	rec, err := h.store.Get(ctx, req.ID)
	if err != nil {
		return h.storeError(ctx, err)
	}
	return handler.JSON(rec)
}

type replayRequest struct {
	ID    uuid.UUID `path:"id"`
	Force bool      `query:"force"`
}

type replayResponse struct {
	RecordID uuid.UUID `json:"record_id"`
	JobID    uuid.UUID `json:"job_id"`
}

func (h *router) replayDeadLetter(ctx handler.Context, req replayRequest) handler.Response {
	jobID, err := deadletter.Replay(ctx, h.store, h.replayer, req.ID, h.now(), req.Force)
	if err != nil {
		return h.storeError(ctx, err)
	}

	h.log.InfoContext(ctx, "dead letter replayed",
		slog.String("record_id", req.ID.String()),
		logger.JobID(jobID),
		slog.Bool("force", req.Force))
	return handler.JSON(replayResponse{RecordID: req.ID, JobID: jobID}, handler.WithJSONStatus(http.StatusAccepted))
}

func (h *router) listSchedules(ctx handler.Context, _ struct{}) handler.Response {
	return handler.JSON(h.schedules.Entries())
}

type fireRequest struct {
	Key string `path:"key"`
}

type fireResponse struct {
	Key     string            `json:"dedupe_key"`
	Outcome queue.FireOutcome `json:"outcome"`
}

func (h *router) fireSchedule(ctx handler.Context, req fireRequest) handler.Response {
	outcome, err := h.schedules.Fire(ctx, req.Key)
	if err != nil {
		if errors.Is(err, queue.ErrScheduleNotFound) {
			return handler.JSONError(handler.WithStatus(handler.ErrNotFound, err))
		}
		return h.fail(ctx, "failed to fire recurring job", err)
	}

	h.log.InfoContext(ctx, "recurring job fired manually",
		slog.String("dedupe_key", req.Key),
		slog.String("outcome", string(outcome)))
	return handler.JSON(fireResponse{Key: req.Key, Outcome: outcome})
}

func (h *router) storeError(ctx context.Context, err error) handler.Response {
	switch {
	case errors.Is(err, queue.ErrDeadLetterNotFound):
		return handler.JSONError(handler.WithStatus(handler.ErrNotFound, err))
	case errors.Is(err, deadletter.ErrAlreadyReplayed):
		return handler.JSONError(handler.WithStatus(handler.ErrConflict, err))
	default:
		return h.fail(ctx, "dead letter request failed", err)
	}
}

// fail logs err and renders it. Unclassified errors become a 500.
func (h *router) fail(ctx context.Context, msg string, err error) handler.Response {
	h.log.ErrorContext(ctx, msg, logger.Error(err))
	return handler.JSONError(err)
}

func (h *router) handleError(ctx handler.Context, err error) {
	if !errors.Is(err, handler.ErrBadRequest) {
		h.log.ErrorContext(ctx, "ops request failed", logger.Error(err))
	}
	handler.DefaultErrorHandler(ctx, err)
}

// accessLog writes one debug line per request.
func (h *router) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.DebugContext(r.Context(), "ops request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			logger.Duration(time.Since(start)))
	})
}
