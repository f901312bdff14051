package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/marketjobs/pkg/pg"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const recordColumns = `id, original_queue, original_job_id, original_type, original_payload,
	error_message, failed_at, retry_count, replayed_at, replay_job_id`

const insertRecordSQL = `INSERT INTO dead_letters (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (original_job_id) DO NOTHING`

const getRecordSQL = `SELECT ` + recordColumns + ` FROM dead_letters WHERE id = $1`

const claimReplaySQL = `UPDATE dead_letters SET replayed_at = $3::timestamptz
WHERE id = $1 AND replayed_at IS NOT DISTINCT FROM $2::timestamptz
RETURNING id`

const markReplayedSQL = `UPDATE dead_letters SET replayed_at = $2, replay_job_id = $3 WHERE id = $1`

// PostgresStore is a queue.DeadLetterStore backed by the dead_letters table.
type PostgresStore struct {
	db DB
}

var _ queue.DeadLetterStore = (*PostgresStore)(nil)

// NewPostgresStore wraps db. The schema must already be migrated.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, rec queue.DeadLetterRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	payload := rec.OriginalPayload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	_, err := s.db.Exec(ctx, insertRecordSQL,
		rec.ID,
		rec.OriginalQueue,
		rec.OriginalJobID,
		rec.OriginalType,
		[]byte(payload),
		rec.ErrorMessage,
		rec.FailedAt.UTC(),
		rec.RetryCount,
		rec.ReplayedAt,
		rec.ReplayJobID,
	)
	if err != nil {
		return errors.Join(ErrStoreFailed, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (queue.DeadLetterRecord, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, getRecordSQL, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return queue.DeadLetterRecord{}, fmt.Errorf("%w: %s", queue.ErrDeadLetterNotFound, id)
		}
		return queue.DeadLetterRecord{}, errors.Join(ErrStoreFailed, err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, filter queue.DeadLetterFilter) ([]queue.DeadLetterRecord, error) {
	query, args := buildListQuery(filter)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(ErrStoreFailed, err)
	}
	defer rows.Close()

	out := []queue.DeadLetterRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Join(ErrStoreFailed, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrStoreFailed, err)
	}
	return out, nil
}

func (s *PostgresStore) ClaimReplay(ctx context.Context, id uuid.UUID, expected, at *time.Time) error {
	var claimed uuid.UUID
	err := s.db.QueryRow(ctx, claimReplaySQL, id, utcPtr(expected), utcPtr(at)).Scan(&claimed)
	if err == nil {
		return nil
	}
	if !pg.IsNotFoundError(err) {
		return errors.Join(ErrStoreFailed, err)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", queue.ErrReplayConflict, id)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *PostgresStore) MarkReplayed(ctx context.Context, id, jobID uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx, markReplayedSQL, id, at.UTC(), jobID)
	if err != nil {
		return errors.Join(ErrStoreFailed, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", queue.ErrDeadLetterNotFound, id)
	}
	return nil
}

// buildListQuery renders the SELECT for filter with positional arguments.
func buildListQuery(filter queue.DeadLetterFilter) (string, []any) {
	var (
		b     strings.Builder
		args  []any
		where []string
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	b.WriteString("SELECT " + recordColumns + " FROM dead_letters")
	if filter.Queue != "" {
		where = append(where, "original_queue = "+arg(filter.Queue))
	}
	if !filter.Since.IsZero() {
		where = append(where, "failed_at >= "+arg(filter.Since.UTC()))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY failed_at DESC, id")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}
	if filter.Offset > 0 {
		b.WriteString(" OFFSET " + arg(filter.Offset))
	}
	return b.String(), args
}

func scanRecord(row pgx.Row) (queue.DeadLetterRecord, error) {
	var (
		rec     queue.DeadLetterRecord
		payload []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.OriginalQueue,
		&rec.OriginalJobID,
		&rec.OriginalType,
		&payload,
		&rec.ErrorMessage,
		&rec.FailedAt,
		&rec.RetryCount,
		&rec.ReplayedAt,
		&rec.ReplayJobID,
	)
	if err != nil {
		return queue.DeadLetterRecord{}, err
	}
	rec.OriginalPayload = json.RawMessage(payload)
	rec.FailedAt = rec.FailedAt.UTC()
	if rec.ReplayedAt != nil {
		t := rec.ReplayedAt.UTC()
		rec.ReplayedAt = &t
	}
	return rec, nil
}
