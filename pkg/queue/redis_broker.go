package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// priorityScoreFactor separates priority bands in the waiting set. Millisecond
// timestamps stay below it until the year 2286.
const priorityScoreFactor = 10_000_000_000_000

// RedisBroker is a Broker backed by Redis. Every state change runs as a Lua
// script, so each operation is atomic across competing workers.
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time

	mu        sync.RWMutex
	retention map[string][2]int
}

// RedisBrokerOption configures a RedisBroker.
type RedisBrokerOption func(*RedisBroker)

// WithRedisPrefix sets the key prefix. Defaults to "mq:".
func WithRedisPrefix(prefix string) RedisBrokerOption {
	return func(b *RedisBroker) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithRedisClock overrides the broker's time source.
func WithRedisClock(now func() time.Time) RedisBrokerOption {
	return func(b *RedisBroker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewRedisBroker creates a broker on top of an established client.
// Closing the broker does not close the client.
func NewRedisBroker(client redis.UniversalClient, opts ...RedisBrokerOption) (*RedisBroker, error) {
	if client == nil {
		return nil, ErrBrokerNil
	}
	b := &RedisBroker{
		client:    client,
		prefix:    "mq:",
		now:       time.Now,
		retention: make(map[string][2]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// SetRetention implements RetentionSetter.
func (b *RedisBroker) SetRetention(queue string, keepCompleted, keepFailed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retention[queue] = [2]int{max(keepCompleted, 0), max(keepFailed, 0)}
}

func (b *RedisBroker) keep(queue string, state JobState) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if state == StateCompleted {
		return b.retention[queue][0]
	}
	return b.retention[queue][1]
}

// base returns the key prefix of queue; the hash tag keeps a queue's keys in one slot.
func (b *RedisBroker) base(queue string) string {
	return b.prefix + "{" + queue + "}:"
}

func (b *RedisBroker) key(queue, name string) string {
	return b.base(queue) + name
}

func (b *RedisBroker) jobKey(queue string, id uuid.UUID) string {
	return b.base(queue) + "job:" + id.String()
}

func (b *RedisBroker) Enqueue(ctx context.Context, env *Envelope) error {
	if env == nil {
		return ErrPayloadNil
	}

	body, err := json.Marshal(env)
	if err != nil {
		return errors.Join(ErrPayloadMarshal, err)
	}

	res, err := enqueueScript.Run(ctx, b.client,
		[]string{
			b.jobKey(env.Queue, env.ID),
			b.key(env.Queue, "waiting"),
			b.key(env.Queue, "delayed"),
			b.key(env.Queue, "dedupe"),
		},
		env.ID.String(),
		body,
		env.DedupeKey,
		env.AvailableAt.UnixMilli(),
		b.now().UnixMilli(),
		waitingScore(env.Priority, env.AvailableAt),
		env.AttemptsMade,
	).Result()
	if err != nil {
		return errors.Join(ErrBrokerUnavailable, err)
	}

	switch v := res.(type) {
	case int64:
		if v == -1 {
			return fmt.Errorf("%w: %s", ErrJobExists, env.ID)
		}
		return nil
	case string:
		return fmt.Errorf("%w: %s (job %s)", ErrDuplicateJob, env.DedupeKey, v)
	}
	return fmt.Errorf("unexpected enqueue script result %T", res)
}

func (b *RedisBroker) Lease(ctx context.Context, queue string, lease time.Duration) (*Envelope, error) {
	now := b.now().UTC()
	token := strconv.FormatInt(now.UnixNano(), 10)

	id, err := leaseScript.Run(ctx, b.client,
		[]string{b.key(queue, "waiting"), b.key(queue, "delayed"), b.key(queue, "active")},
		b.base(queue),
		now.UnixMilli(),
		now.Add(lease).UnixMilli(),
		token,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJobAvailable
	}
	if err != nil {
		return nil, errors.Join(ErrBrokerUnavailable, err)
	}

	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt job id %q in queue %s: %w", id, queue, err)
	}
	return b.Get(ctx, queue, jobID)
}

func (b *RedisBroker) ExtendLease(ctx context.Context, env *Envelope, lease time.Duration) error {
	token, err := leaseToken(env)
	if err != nil {
		return err
	}

	expires := b.now().UTC().Add(lease)
	ok, err := extendScript.Run(ctx, b.client,
		[]string{b.key(env.Queue, "active"), b.jobKey(env.Queue, env.ID)},
		env.ID.String(), token, expires.UnixMilli(),
	).Int()
	if err != nil {
		return errors.Join(ErrBrokerUnavailable, err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, env.ID)
	}
	env.LeaseExpiresAt = &expires
	return nil
}

func (b *RedisBroker) Ack(ctx context.Context, env *Envelope) error {
	return b.finish(ctx, env, StateCompleted, "")
}

func (b *RedisBroker) Nack(ctx context.Context, env *Envelope, availableAt time.Time, errMsg string) error {
	token, err := leaseToken(env)
	if err != nil {
		return err
	}
	if env.AttemptsMade > env.MaxAttempts {
		return fmt.Errorf("%w: %d > %d", ErrAttemptsExceeded, env.AttemptsMade, env.MaxAttempts)
	}

	ok, err := nackScript.Run(ctx, b.client,
		[]string{
			b.key(env.Queue, "active"),
			b.jobKey(env.Queue, env.ID),
			b.key(env.Queue, "waiting"),
			b.key(env.Queue, "delayed"),
		},
		env.ID.String(),
		token,
		env.AttemptsMade,
		availableAt.UnixMilli(),
		b.now().UnixMilli(),
		waitingScore(env.Priority, availableAt),
		errMsg,
	).Int()
	if err != nil {
		return errors.Join(ErrBrokerUnavailable, err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, env.ID)
	}
	return nil
}

func (b *RedisBroker) Fail(ctx context.Context, env *Envelope, errMsg string) error {
	return b.finish(ctx, env, StateDead, errMsg)
}

func (b *RedisBroker) finish(ctx context.Context, env *Envelope, state JobState, errMsg string) error {
	token, err := leaseToken(env)
	if err != nil {
		return err
	}
	if env.AttemptsMade > env.MaxAttempts {
		return fmt.Errorf("%w: %d > %d", ErrAttemptsExceeded, env.AttemptsMade, env.MaxAttempts)
	}

	list := "completed"
	if state == StateDead {
		list = "failed"
	}

	ok, err := finishScript.Run(ctx, b.client,
		[]string{
			b.key(env.Queue, "active"),
			b.jobKey(env.Queue, env.ID),
			b.key(env.Queue, "dedupe"),
			b.key(env.Queue, list),
			b.key(env.Queue, "stats"),
		},
		env.ID.String(),
		token,
		string(state),
		env.AttemptsMade,
		errMsg,
		env.DedupeKey,
		b.keep(env.Queue, state),
		b.base(env.Queue),
	).Int()
	if err != nil {
		return errors.Join(ErrBrokerUnavailable, err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, env.ID)
	}
	return nil
}

func (b *RedisBroker) Outstanding(ctx context.Context, queue, dedupeKey string) (bool, error) {
	ok, err := b.client.HExists(ctx, b.key(queue, "dedupe"), dedupeKey).Result()
	if err != nil {
		return false, errors.Join(ErrBrokerUnavailable, err)
	}
	return ok, nil
}

func (b *RedisBroker) Get(ctx context.Context, queue string, id uuid.UUID) (*Envelope, error) {
	fields, err := b.client.HGetAll(ctx, b.jobKey(queue, id)).Result()
	if err != nil {
		return nil, errors.Join(ErrBrokerUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return decodeJobHash(fields)
}

func (b *RedisBroker) Counts(ctx context.Context, queue string) (Counts, error) {
	now := strconv.FormatInt(b.now().UnixMilli(), 10)

	pipe := b.client.Pipeline()
	waiting := pipe.ZCard(ctx, b.key(queue, "waiting"))
	due := pipe.ZCount(ctx, b.key(queue, "delayed"), "-inf", now)
	delayed := pipe.ZCount(ctx, b.key(queue, "delayed"), "("+now, "+inf")
	active := pipe.ZCard(ctx, b.key(queue, "active"))
	totals := pipe.HMGet(ctx, b.key(queue, "stats"), string(StateCompleted), string(StateDead))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, errors.Join(ErrBrokerUnavailable, err)
	}

	c := Counts{
		Waiting: waiting.Val() + due.Val(),
		Delayed: delayed.Val(),
		Active:  active.Val(),
	}
	vals := totals.Val()
	c.Completed = parseCount(vals[0])
	c.Failed = parseCount(vals[1])
	return c, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBroker) Close() error {
	return nil
}

func waitingScore(p Priority, availableAt time.Time) int64 {
	return int64(p)*priorityScoreFactor + availableAt.UnixMilli()
}

func leaseToken(env *Envelope) (string, error) {
	if env == nil || env.LeasedAt == nil {
		return "", ErrLeaseLost
	}
	return strconv.FormatInt(env.LeasedAt.UnixNano(), 10), nil
}

func parseCount(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func decodeJobHash(fields map[string]string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(fields["body"]), &env); err != nil {
		return nil, fmt.Errorf("decode stored envelope: %w", err)
	}

	env.State = JobState(fields["state"])
	env.LastError = fields["error"]
	env.LeasedAt = nil
	env.LeaseExpiresAt = nil

	if n, err := strconv.Atoi(fields["attempts"]); err == nil {
		env.AttemptsMade = n
	}
	if ms, err := strconv.ParseInt(fields["avail"], 10, 64); err == nil {
		env.AvailableAt = time.UnixMilli(ms).UTC()
	}
	if ns, err := strconv.ParseInt(fields["leased"], 10, 64); err == nil {
		t := time.Unix(0, ns).UTC()
		env.LeasedAt = &t
	}
	if ms, err := strconv.ParseInt(fields["expires"], 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		env.LeaseExpiresAt = &t
	}
	return &env, nil
}
