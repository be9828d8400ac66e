package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/metrics"
)

// Sweeper は PROCESSING のまま最大処理時間を超えたジョブを TIMEOUT で FAILED にします。
type Sweeper struct {
	store         Store
	maxProcessing time.Duration
	batchSize     int
	metrics       *metrics.Collector
	logger        zerolog.Logger
	now           func() time.Time
}

// NewSweeper は Sweeper を作成します。
func NewSweeper(store Store, maxProcessing time.Duration, batchSize int, m *metrics.Collector, logger zerolog.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if maxProcessing <= 0 {
		return nil, errors.New("maxProcessing must be positive")
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		store:         store,
		maxProcessing: maxProcessing,
		batchSize:     batchSize,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Sweep は1回分の掃除を行い、FAILED にした件数を返します。
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxProcessing)
	ids, err := s.store.ListStaleProcessing(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, id := range ids {
		_, err := s.store.CompareAndSetStatus(ctx, id, StatusProcessing, StatusFailed, Update{ErrorDetail: CategoryTimeout})
		switch {
		case err == nil:
			failed++
			s.logger.Warn().Str("job_id", id).Msg("sweeper: stuck job marked as timed out")
		case errors.Is(err, ErrStaleStatus), errors.Is(err, ErrNotFound):
			// ワーカーが先に終了したか、期限切れで消えた
		default:
			s.logger.Error().Err(err).Str("job_id", id).Msg("sweeper: failed to mark stuck job")
		}
	}
	s.metrics.RecordSwept(failed)
	return failed, nil
}

// HandleTask は定期実行される掃除タスクのハンドラーです。
func (s *Sweeper) HandleTask(ctx context.Context, _ *asynq.Task) error {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: sweep failed")
		return err
	}
	if n > 0 {
		s.logger.Info().Int("failed", n).Msg("sweeper: sweep finished")
	}
	return nil
}
