package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

// Replayer re-enqueues a dead-letter record. *queue.Registry implements it.
type Replayer interface {
	Replay(ctx context.Context, rec queue.DeadLetterRecord) (uuid.UUID, error)
}

// Replay re-enqueues record id into its original queue and stamps it as
// replayed. A record that was already replayed is refused unless force is set.
// The stamp is claimed before the enqueue, so of two concurrent calls for the
// same record only one enqueues a job.
func Replay(ctx context.Context, store queue.DeadLetterStore, replayer Replayer, id uuid.UUID, at time.Time, force bool) (uuid.UUID, error) {
	rec, err := store.Get(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if rec.ReplayedAt != nil && !force {
		return uuid.Nil, alreadyReplayed(rec)
	}

	if err := store.ClaimReplay(ctx, id, rec.ReplayedAt, &at); err != nil {
		if errors.Is(err, queue.ErrReplayConflict) {
			return uuid.Nil, fmt.Errorf("%w: %s is being replayed concurrently", ErrAlreadyReplayed, id)
		}
		return uuid.Nil, err
	}

	jobID, err := replayer.Replay(ctx, rec)
	if err != nil {
		if rerr := store.ClaimReplay(ctx, id, &at, rec.ReplayedAt); rerr != nil {
			err = errors.Join(err, rerr)
		}
		if errors.Is(err, queue.ErrDuplicateJob) {
			return uuid.Nil, fmt.Errorf("%w: a replay of %s is still outstanding: %w", ErrAlreadyReplayed, id, err)
		}
		return uuid.Nil, errors.Join(ErrReplayFailed, err)
	}
	if err := store.MarkReplayed(ctx, id, jobID, at); err != nil {
		return jobID, errors.Join(ErrReplayFailed, err)
	}
	return jobID, nil
}

func alreadyReplayed(rec queue.DeadLetterRecord) error {
	return fmt.Errorf("%w: %s at %s as job %s", ErrAlreadyReplayed, rec.ID,
		rec.ReplayedAt.Format(time.RFC3339), replayJobString(rec.ReplayJobID))
}

func replayJobString(id *uuid.UUID) string {
	if id == nil {
		return "unknown"
	}
	return id.String()
}
