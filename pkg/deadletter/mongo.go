package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

// mongoRecord is the stored document. Identifiers are kept as canonical
// strings so the collection stays readable from the mongo shell.
type mongoRecord struct {
	ID              string     `bson:"_id"`
	OriginalQueue   string     `bson:"original_queue"`
	OriginalJobID   string     `bson:"original_job_id"`
	OriginalType    string     `bson:"original_type"`
	OriginalPayload string     `bson:"original_payload"`
	ErrorMessage    string     `bson:"error_message"`
	FailedAt        time.Time  `bson:"failed_at"`
	RetryCount      int        `bson:"retry_count"`
	ReplayedAt      *time.Time `bson:"replayed_at,omitempty"`
	ReplayJobID     string     `bson:"replay_job_id,omitempty"`
}

func toMongoRecord(rec queue.DeadLetterRecord) mongoRecord {
	doc := mongoRecord{
		ID:              rec.ID.String(),
		OriginalQueue:   rec.OriginalQueue,
		OriginalJobID:   rec.OriginalJobID.String(),
		OriginalType:    rec.OriginalType,
		OriginalPayload: string(rec.OriginalPayload),
		ErrorMessage:    rec.ErrorMessage,
		FailedAt:        rec.FailedAt.UTC(),
		RetryCount:      rec.RetryCount,
	}
	if rec.ReplayedAt != nil {
		t := rec.ReplayedAt.UTC()
		doc.ReplayedAt = &t
	}
	if rec.ReplayJobID != nil {
		doc.ReplayJobID = rec.ReplayJobID.String()
	}
	return doc
}

func (d mongoRecord) toRecord() (queue.DeadLetterRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return queue.DeadLetterRecord{}, fmt.Errorf("record id: %w", err)
	}
	jobID, err := uuid.Parse(d.OriginalJobID)
	if err != nil {
		return queue.DeadLetterRecord{}, fmt.Errorf("original job id: %w", err)
	}

	rec := queue.DeadLetterRecord{
		ID:            id,
		OriginalQueue: d.OriginalQueue,
		OriginalJobID: jobID,
		OriginalType:  d.OriginalType,
		ErrorMessage:  d.ErrorMessage,
		FailedAt:      d.FailedAt.UTC(),
		RetryCount:    d.RetryCount,
	}
	if d.OriginalPayload != "" {
		rec.OriginalPayload = json.RawMessage(d.OriginalPayload)
	}
	if d.ReplayedAt != nil {
		t := d.ReplayedAt.UTC()
		rec.ReplayedAt = &t
	}
	if d.ReplayJobID != "" {
		replay, err := uuid.Parse(d.ReplayJobID)
		if err != nil {
			return queue.DeadLetterRecord{}, fmt.Errorf("replay job id: %w", err)
		}
		rec.ReplayJobID = &replay
	}
	return rec, nil
}

// MongoStore is a queue.DeadLetterStore backed by a MongoDB collection.
type MongoStore struct {
	coll *mongo.Collection
}

var _ queue.DeadLetterStore = (*MongoStore)(nil)

// NewMongoStore stores records in db.Collection(collection).
func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	return &MongoStore{coll: db.Collection(collection)}
}

// EnsureIndexes creates the unique original_job_id index Save relies on and
// the indexes used by List.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "original_job_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("original_job_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "failed_at", Value: -1}},
			Options: options.Index().SetName("failed_at_desc"),
		},
		{
			Keys:    bson.D{{Key: "original_queue", Value: 1}, {Key: "failed_at", Value: -1}},
			Options: options.Index().SetName("queue_failed_at"),
		},
	})
	if err != nil {
		return errors.Join(ErrStoreFailed, err)
	}
	return nil
}

func (s *MongoStore) Save(ctx context.Context, rec queue.DeadLetterRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	doc := toMongoRecord(rec)

	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "original_job_id", Value: doc.OriginalJobID}},
		bson.D{{Key: "$setOnInsert", Value: doc}},
		options.UpdateOne().SetUpsert(true),
	)
	// Two concurrent upserts for the same job can race on the unique index;
	// the loser finds the record already present.
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return errors.Join(ErrStoreFailed, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id uuid.UUID) (queue.DeadLetterRecord, error) {
	var doc mongoRecord
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return queue.DeadLetterRecord{}, fmt.Errorf("%w: %s", queue.ErrDeadLetterNotFound, id)
		}
		return queue.DeadLetterRecord{}, errors.Join(ErrStoreFailed, err)
	}

	rec, err := doc.toRecord()
	if err != nil {
		return queue.DeadLetterRecord{}, errors.Join(ErrStoreFailed, err)
	}
	return rec, nil
}

func (s *MongoStore) List(ctx context.Context, filter queue.DeadLetterFilter) ([]queue.DeadLetterRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cur, err := s.coll.Find(ctx, mongoFilter(filter), opts)
	if err != nil {
		return nil, errors.Join(ErrStoreFailed, err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var docs []mongoRecord
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Join(ErrStoreFailed, err)
	}

	out := make([]queue.DeadLetterRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := doc.toRecord()
		if err != nil {
			return nil, errors.Join(ErrStoreFailed, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *MongoStore) ClaimReplay(ctx context.Context, id uuid.UUID, expected, at *time.Time) error {
	filter := bson.D{{Key: "_id", Value: id.String()}}
	if expected == nil {
		filter = append(filter, bson.E{Key: "replayed_at", Value: nil})
	} else {
		filter = append(filter, bson.E{Key: "replayed_at", Value: expected.UTC()})
	}
	update := bson.D{{Key: "$unset", Value: bson.D{{Key: "replayed_at", Value: ""}}}}
	if at != nil {
		update = bson.D{{Key: "$set", Value: bson.D{{Key: "replayed_at", Value: at.UTC()}}}}
	}

	err := s.coll.FindOneAndUpdate(ctx, filter, update).Err()
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return errors.Join(ErrStoreFailed, err)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", queue.ErrReplayConflict, id)
}

func (s *MongoStore) MarkReplayed(ctx context.Context, id, jobID uuid.UUID, at time.Time) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id.String()}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "replayed_at", Value: at.UTC()},
			{Key: "replay_job_id", Value: jobID.String()},
		}}},
	)
	if err != nil {
		return errors.Join(ErrStoreFailed, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", queue.ErrDeadLetterNotFound, id)
	}
	return nil
}

func mongoFilter(filter queue.DeadLetterFilter) bson.D {
	out := bson.D{}
	if filter.Queue != "" {
		out = append(out, bson.E{Key: "original_queue", Value: filter.Queue})
	}
	if !filter.Since.IsZero() {
		out = append(out, bson.E{Key: "failed_at", Value: bson.D{{Key: "$gte", Value: filter.Since.UTC()}}})
	}
	return out
}
