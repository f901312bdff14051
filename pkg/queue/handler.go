package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler processes envelopes of one job type. Handlers must be idempotent:
	// delivery is at-least-once and the same payload may be handled twice.
	Handler interface {
		Type() string
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	// JobHandlerFunc handles a decoded payload.
	JobHandlerFunc[T any] func(ctx context.Context, payload T) error
)

// NewHandler returns a Handler that decodes the JSON payload into T before
// calling fn. A payload that does not decode is a handler failure.
func NewHandler[T any](jobType string, fn JobHandlerFunc[T]) Handler {
	return &typedHandler[T]{jobType: jobType, fn: fn}
}

// HandlerFunc returns a Handler that receives the raw payload.
func HandlerFunc(jobType string, fn func(ctx context.Context, payload json.RawMessage) error) Handler {
	return &rawHandler{jobType: jobType, fn: fn}
}

type typedHandler[T any] struct {
	jobType string
	fn      JobHandlerFunc[T]
}

func (h *typedHandler[T]) Type() string {
	return h.jobType
}

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("decode %s payload: %w", h.jobType, err)
	}
	return h.fn(ctx, v)
}

type rawHandler struct {
	jobType string
	fn      func(ctx context.Context, payload json.RawMessage) error
}

func (h *rawHandler) Type() string {
	return h.jobType
}

func (h *rawHandler) Handle(ctx context.Context, payload json.RawMessage) error {
	return h.fn(ctx, payload)
}
