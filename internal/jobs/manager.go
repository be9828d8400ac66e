package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// ManagerOptions はワーカーサーバーの設定です。
type ManagerOptions struct {
	Concurrency   int
	SweepInterval time.Duration
	Logger        zerolog.Logger
}

// Manager は asynq のワーカーサーバーと定期掃除のスケジューラーを束ねます。
type Manager struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    zerolog.Logger
}

// NewManager は Manager を初期化します。
func NewManager(redisOpt asynq.RedisConnOpt, processor *Processor, sweeper *Sweeper, opts ManagerOptions) (*Manager, error) {
	if redisOpt == nil {
		return nil, errors.New("redis option is nil")
	}
	if processor == nil {
		return nil, errors.New("processor is nil")
	}
	if sweeper == nil {
		return nil, errors.New("sweeper is nil")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	logAdapter := asynqLogger{l: opts.Logger.With().Str("component", "asynq").Logger()}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueGeneration:  6,
				QueueMaintenance: 1,
			},
			Logger: logAdapter,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				opts.Logger.Error().Err(err).Str("task_type", task.Type()).Msg("worker: task returned error")
			}),
		},
	)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger: logAdapter,
	})
	if _, err := scheduler.Register(
		fmt.Sprintf("@every %s", interval),
		asynq.NewTask(TaskTypeSweep, nil),
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(0),
		asynq.Unique(interval),
	); err != nil {
		return nil, fmt.Errorf("register sweep schedule: %w", err)
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeGenerate, processor.HandleTask)
	mux.HandleFunc(TaskTypeSweep, sweeper.HandleTask)

	return &Manager{
		server:    server,
		scheduler: scheduler,
		mux:       mux,
		logger:    opts.Logger,
	}, nil
}

// StartWorkers はワーカーとスケジューラーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() error {
	if err := m.server.Start(m.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	if err := m.scheduler.Start(); err != nil {
		m.server.Shutdown()
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	m.logger.Info().Msg("worker: started")
	return nil
}

// Shutdown はスケジューラーとサーバーを停止します。処理中のタスクの終了を待ちます。
func (m *Manager) Shutdown() {
	m.scheduler.Shutdown()
	m.server.Shutdown()
	m.logger.Info().Msg("worker: stopped")
}

// Run は ctx が終了するまでワーカーを動かします。
func (m *Manager) Run(ctx context.Context) error {
	if err := m.StartWorkers(); err != nil {
		return err
	}
	<-ctx.Done()
	m.Shutdown()
	return nil
}

// asynqLogger は asynq のログを zerolog に流します。
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
