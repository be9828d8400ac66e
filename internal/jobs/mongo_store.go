package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const jobsCollection = "generation_jobs"

// MongoStore はジョブを MongoDB のコレクションに保存します。
// expiresAt の TTL インデックスで期限切れのドキュメントが削除されます。
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoStore は db の generation_jobs コレクションを使う MongoStore を作成します。
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		coll: db.Collection(jobsCollection),
		now:  time.Now,
	}
}

// EnsureIndexes は一覧・掃除・TTL 用のインデックスを作成します。
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("jobs: ensure mongo indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, job *Job) error {
	if err := validateNewJob(job); err != nil {
		return err
	}
	if job.Expired(s.now()) {
		return fmt.Errorf("%w: job %s already expired", ErrInvalidInput, job.JobID)
	}
	if _, err := s.coll.InsertOne(ctx, job); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("jobs: insert %s: %w", job.JobID, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := s.coll.FindOne(ctx, liveFilter(jobID, s.now())).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: find %s: %w", jobID, err)
	}
	return &job, nil
}

// CompareAndSetStatus は status を条件に含めた FindOneAndUpdate で遷移します。
func (s *MongoStore) CompareAndSetStatus(ctx context.Context, jobID string, from, to Status, update Update) (*Job, error) {
	if err := checkTransition(from, to, update); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	var job Job
	err := s.coll.FindOneAndUpdate(ctx,
		casFilter(jobID, from, now),
		transitionUpdate(to, update, now),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&job)
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("jobs: update %s: %w", jobID, err)
	}

	current, getErr := s.Get(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: job %s is %s, expected %s", ErrStaleStatus, jobID, current.Status, from)
}

func (s *MongoStore) ListByUser(ctx context.Context, userID string, q ListQuery) (*Page, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}
	cursor, err := decodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(q.Limit + 1))
	cur, err := s.coll.Find(ctx, listFilter(userID, q.Status, cursor, s.now()), opts)
	if err != nil {
		return nil, fmt.Errorf("jobs: list %s: %w", userID, err)
	}
	var jobs []*Job
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("jobs: decode list %s: %w", userID, err)
	}

	page := &Page{Jobs: jobs}
	if len(jobs) > q.Limit {
		page.Jobs = jobs[:q.Limit]
		page.NextCursor = cursorFor(page.Jobs[q.Limit-1])
	}
	return page, nil
}

func (s *MongoStore) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := bson.D{
		{Key: "status", Value: StatusProcessing},
		{Key: "updatedAt", Value: bson.D{{Key: "$lte", Value: before}}},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: s.now()}}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("jobs: list stale: %w", err)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("jobs: decode stale: %w", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

func liveFilter(jobID string, now time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: jobID},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: now}}},
	}
}

func casFilter(jobID string, from Status, now time.Time) bson.D {
	return append(liveFilter(jobID, now), bson.E{Key: "status", Value: from})
}

func transitionUpdate(to Status, u Update, now time.Time) bson.D {
	set := bson.D{
		{Key: "status", Value: to},
		{Key: "updatedAt", Value: now},
	}
	if u.ResultLocation != "" {
		set = append(set, bson.E{Key: "resultLocation", Value: u.ResultLocation})
	}
	if u.ErrorDetail != "" {
		set = append(set, bson.E{Key: "errorDetail", Value: u.ErrorDetail})
	}
	return bson.D{{Key: "$set", Value: set}}
}

// listFilter は (createdAt, _id) の降順でカーソルより後ろの要素を選びます。
func listFilter(userID string, status Status, cursor *pageCursor, now time.Time) bson.D {
	filter := bson.D{
		{Key: "userId", Value: userID},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	if status != "" {
		filter = append(filter, bson.E{Key: "status", Value: status})
	}
	if cursor != nil {
		at := time.UnixMilli(cursor.CreatedAtMs).UTC()
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "createdAt", Value: bson.D{{Key: "$lt", Value: at}}}},
			bson.D{
				{Key: "createdAt", Value: at},
				{Key: "_id", Value: bson.D{{Key: "$lt", Value: cursor.JobID}}},
			},
		}})
	}
	return filter
}
