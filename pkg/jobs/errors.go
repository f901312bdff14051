package jobs

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

var (
	ErrRegistryNil          = errors.New("jobs: registry is nil")
	ErrGuardNil             = errors.New("jobs: idempotency guard is nil")
	ErrOperationInProgress  = fmt.Errorf("jobs: operation already in progress: %w", queue.ErrRetryLater)
	ErrEmptyIdempotencyKey  = errors.New("jobs: idempotency key is empty")
	ErrPaymentDeclined      = errors.New("jobs: payment declined")
	ErrInvalidSchedule      = errors.New("jobs: invalid recurring schedule")
	ErrUnknownScheduleEntry = errors.New("jobs: unknown recurring entry")
	ErrFileNotFound         = errors.New("jobs: file object not found")
)
