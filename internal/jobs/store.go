package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix       = "job:"
	userIndexPrefix    = "jobs:user:"
	processingIndexKey = "jobs:processing"

	maxCASAttempts = 8
)

// Store はジョブレコードの永続化を担います。
//
// 状態の変更は CompareAndSetStatus だけで行い、現在の状態が from の場合にのみ成功します。
// 保持期限 (ExpiresAt) を過ぎたジョブは存在しないものとして扱われます。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	CompareAndSetStatus(ctx context.Context, jobID string, from, to Status, update Update) (*Job, error)
	ListByUser(ctx context.Context, userID string, q ListQuery) (*Page, error)
	ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// ListQuery は履歴一覧の条件です。
type ListQuery struct {
	Cursor string
	Limit  int
	Status Status
}

// Page は履歴一覧の1ページです。
type Page struct {
	Jobs       []*Job
	NextCursor string
}

// RedisStore はジョブを job:<id> に JSON で保存し、ExpiresAt に合わせた TTL を設定します。
// ユーザーごとの一覧は jobs:user:<userId> のソート済みセット (score = createdAt ミリ秒) で引きます。
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		now: time.Now,
	}
}

// Create は新しいジョブを保存します。同じ jobId が存在する場合は ErrDuplicateJob です。
func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	if err := validateNewJob(job); err != nil {
		return err
	}
	ttl := job.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("%w: job %s already expired", ErrInvalidInput, job.JobID)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	key := jobKey(job.JobID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateJob
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			idx := userIndexKey(job.UserID)
			pipe.Set(ctx, key, payload, ttl)
			pipe.ZAdd(ctx, idx, redis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.JobID})
			// 索引の TTL は最も長く残るジョブに合わせ、短くはしない。
			pipe.ExpireNX(ctx, idx, ttl)
			pipe.ExpireGT(ctx, idx, ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrDuplicateJob
	}
	return err
}

// Get はジョブを取得します。存在しないか期限切れなら ErrNotFound です。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, ErrNotFound
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	job, err := decodeJob(data)
	if err != nil {
		return nil, err
	}
	if job.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return job, nil
}

// CompareAndSetStatus は WATCH/MULTI で現在の状態を確認しつつ遷移を書き込みます。
func (s *RedisStore) CompareAndSetStatus(ctx context.Context, jobID string, from, to Status, update Update) (*Job, error) {
	if err := checkTransition(from, to, update); err != nil {
		return nil, err
	}
	key := jobKey(jobID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var updated *Job
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}
			job, err := decodeJob(data)
			if err != nil {
				return err
			}
			now := s.now().UTC()
			if job.Expired(now) {
				return ErrNotFound
			}
			if job.Status != from {
				return fmt.Errorf("%w: job %s is %s, expected %s", ErrStaleStatus, jobID, job.Status, from)
			}

			applyTransition(job, to, update, now)
			payload, err := json.Marshal(job)
			if err != nil {
				return err
			}
			ttl := job.ExpiresAt.Sub(now)

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, ttl)
				if to == StatusProcessing {
					pipe.ZAdd(ctx, processingIndexKey, redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
				} else {
					pipe.ZRem(ctx, processingIndexKey, jobID)
				}
				return nil
			})
			if err == nil {
				updated = job
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("%w: job %s: too many concurrent writers", ErrStaleStatus, jobID)
}

// ListByUser は createdAt の降順 (同値は jobId の降順) でユーザーのジョブを返します。
// TTL で消えたジョブは一覧から取り除かれます。
func (s *RedisStore) ListByUser(ctx context.Context, userID string, q ListQuery) (*Page, error) {
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

	idx := userIndexKey(userID)
	maxScore := "+inf"
	if cursor != nil {
		maxScore = strconv.FormatInt(cursor.CreatedAtMs, 10)
	}
	batch := int64(q.Limit * 2)
	if batch < 20 {
		batch = 20
	}

	now := s.now()
	var (
		jobs   []*Job
		stale  []any
		offset int64
	)
	for len(jobs) <= q.Limit {
		entries, err := s.rdb.ZRevRangeByScoreWithScores(ctx, idx, &redis.ZRangeBy{
			Max:    maxScore,
			Min:    "-inf",
			Offset: offset,
			Count:  batch,
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}
		offset += int64(len(entries))

		ids := make([]string, 0, len(entries))
		for _, z := range entries {
			id, _ := z.Member.(string)
			if id == "" || !cursor.after(int64(z.Score), id) {
				continue
			}
			ids = append(ids, id)
		}

		if len(ids) > 0 {
			keys := make([]string, len(ids))
			for i, id := range ids {
				keys[i] = jobKey(id)
			}
			values, err := s.rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, err
			}
			for i, v := range values {
				raw, ok := v.(string)
				if !ok {
					stale = append(stale, ids[i])
					continue
				}
				job, err := decodeJob([]byte(raw))
				if err != nil {
					return nil, err
				}
				if job.Expired(now) {
					stale = append(stale, ids[i])
					continue
				}
				if q.Status != "" && job.Status != q.Status {
					continue
				}
				jobs = append(jobs, job)
				if len(jobs) > q.Limit {
					break
				}
			}
		}

		if int64(len(entries)) < batch {
			break
		}
	}

	if len(stale) > 0 {
		// 一覧の整合には影響しないので失敗しても続行する
		_ = s.rdb.ZRem(ctx, idx, stale...).Err()
	}

	page := &Page{Jobs: jobs}
	if len(jobs) > q.Limit {
		page.Jobs = jobs[:q.Limit]
		page.NextCursor = cursorFor(page.Jobs[q.Limit-1])
	}
	return page, nil
}

// ListStaleProcessing は before 以前に PROCESSING になったジョブの ID を古い順に返します。
func (s *RedisStore) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.rdb.ZRangeByScore(ctx, processingIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	counts := make([]*redis.IntCmd, len(keys))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			counts[i] = pipe.Exists(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	live := make([]string, 0, len(ids))
	var gone []any
	for i, id := range ids {
		if counts[i].Val() == 0 {
			gone = append(gone, id)
			continue
		}
		live = append(live, id)
	}
	if len(gone) > 0 {
		_ = s.rdb.ZRem(ctx, processingIndexKey, gone...).Err()
	}
	return live, nil
}

func validateNewJob(job *Job) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidInput)
	}
	if job.JobID == "" || job.UserID == "" || job.SourceFileID == "" {
		return fmt.Errorf("%w: jobId, userId and sourceFileId are required", ErrInvalidInput)
	}
	if job.Status != StatusPending {
		return fmt.Errorf("%w: new jobs must be PENDING", ErrInvalidTransition)
	}
	if job.ResultLocation != "" || job.ErrorDetail != "" {
		return fmt.Errorf("%w: new jobs carry no result or error", ErrInvalidTransition)
	}
	if job.CreatedAt.IsZero() || job.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: createdAt and expiresAt are required", ErrInvalidInput)
	}
	return nil
}

func decodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("jobs: decode record: %w", err)
	}
	return &job, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func userIndexKey(userID string) string {
	return userIndexPrefix + userID
}
