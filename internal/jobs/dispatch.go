package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeGenerate は生成ジョブのタスク種別です。
	TaskTypeGenerate = "generation:process"
	// TaskTypeSweep は滞留ジョブ掃除のタスク種別です。
	TaskTypeSweep = "generation:sweep"

	// QueueGeneration は生成タスクを流すキュー名です。
	QueueGeneration = "generation"
	// QueueMaintenance は掃除タスクを流すキュー名です。
	QueueMaintenance = "maintenance"
)

// Dispatcher はジョブを非同期処理へ引き渡します。戻り値は受理されたかどうかだけを表します。
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// TaskPayload は生成タスクのペイロードです。ワーカーは jobId から最新状態を読み直します。
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// DispatchOptions は asynq への投入設定です。
type DispatchOptions struct {
	MaxRetry int
	Timeout  time.Duration
}

// AsynqDispatcher は asynq のクライアントでタスクを投入します。
type AsynqDispatcher struct {
	client *asynq.Client
	opts   DispatchOptions
}

// NewAsynqDispatcher は AsynqDispatcher を作成します。
func NewAsynqDispatcher(client *asynq.Client, opts DispatchOptions) (*AsynqDispatcher, error) {
	if client == nil {
		return nil, errors.New("asynq client is nil")
	}
	if opts.MaxRetry < 0 {
		opts.MaxRetry = 0
	}
	return &AsynqDispatcher{client: client, opts: opts}, nil
}

// Dispatch は jobId だけを含むタスクを投入します。同じ jobId のタスクが既にあれば受理済みとみなします。
func (d *AsynqDispatcher) Dispatch(ctx context.Context, jobID string) error {
	task, err := NewGenerateTask(jobID)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueGeneration),
		asynq.TaskID(jobID),
		asynq.MaxRetry(d.opts.MaxRetry),
	}
	if d.opts.Timeout > 0 {
		opts = append(opts, asynq.Timeout(d.opts.Timeout))
	}

	if _, err := d.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return nil
}

// NewGenerateTask は生成タスクを作成します。
func NewGenerateTask(jobID string) (*asynq.Task, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobID is required", ErrInvalidInput)
	}
	body, err := json.Marshal(TaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGenerate, body), nil
}

func decodeTaskPayload(task *asynq.Task) (*TaskPayload, error) {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return nil, err
	}
	if payload.JobID == "" {
		return nil, fmt.Errorf("missing jobId in payload")
	}
	return &payload, nil
}
