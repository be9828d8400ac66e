package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/documents"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/generation"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/metrics"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/pdf"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/storage"
)

// SourceDocuments はソースドキュメントの所有確認と所在の取得を行います。
type SourceDocuments interface {
	CheckOwnership(ctx context.Context, userID, fileID string) (bool, error)
	Lookup(ctx context.Context, fileID string) (*documents.Document, error)
}

// Generator は生成バックエンドです。
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Artifact, error)
}

// ProcessorOptions は Processor の設定です。
type ProcessorOptions struct {
	GenerationTimeout time.Duration
	SourceLimits      pdf.Limits
	Metrics           *metrics.Collector
	Logger            zerolog.Logger
}

// Processor は配送された jobId を処理するワーカーです。
type Processor struct {
	store     Store
	sources   SourceDocuments
	objects   storage.ObjectStore
	generator Generator
	timeout   time.Duration
	limits    pdf.Limits
	metrics   *metrics.Collector
	logger    zerolog.Logger
	now       func() time.Time
	inspect   func([]byte, pdf.Limits) (*pdf.Info, error)
}

// NewProcessor は Processor を作成します。
func NewProcessor(store Store, sources SourceDocuments, objects storage.ObjectStore, generator Generator, opts ProcessorOptions) (*Processor, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if sources == nil {
		return nil, errors.New("source documents is nil")
	}
	if objects == nil {
		return nil, errors.New("object store is nil")
	}
	if generator == nil {
		return nil, errors.New("generator is nil")
	}
	timeout := opts.GenerationTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Processor{
		store:     store,
		sources:   sources,
		objects:   objects,
		generator: generator,
		timeout:   timeout,
		limits:    opts.SourceLimits,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       time.Now,
		inspect:   pdf.Inspect,
	}, nil
}

// HandleTask は asynq のハンドラーです。
func (p *Processor) HandleTask(ctx context.Context, task *asynq.Task) error {
	payload, err := decodeTaskPayload(task)
	if err != nil {
		p.logger.Error().Err(err).Msg("worker: malformed task payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return p.Process(ctx, payload.JobID)
}

// Process は1件のジョブを処理します。
//
// 生成の失敗はジョブの FAILED として記録され、呼び出し元にエラーは返しません。
// エラーを返すのは PENDING を確保する前にジョブストアへ到達できなかった場合だけで、
// その場合は配送の再試行に任せます。
func (p *Processor) Process(ctx context.Context, jobID string) error {
	log := p.logger.With().Str("job_id", jobID).Logger()

	job, err := p.store.Get(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		log.Info().Msg("worker: job not found, skipping delivery")
		p.metrics.RecordSkipped()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != StatusPending {
		log.Info().Str("status", string(job.Status)).Msg("worker: job already claimed or finished, skipping delivery")
		p.metrics.RecordSkipped()
		return nil
	}

	job, err = p.store.CompareAndSetStatus(ctx, jobID, StatusPending, StatusProcessing, Update{})
	if errors.Is(err, ErrStaleStatus) || errors.Is(err, ErrNotFound) {
		log.Info().Err(err).Msg("worker: lost claim race, skipping delivery")
		p.metrics.RecordSkipped()
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	p.metrics.RecordClaimed()
	started := p.now()
	log = log.With().Str("user_id", job.UserID).Logger()
	log.Info().Msg("worker: job claimed")

	location, category := p.generate(ctx, job, log)
	if category != "" {
		p.finish(ctx, job, StatusFailed, Update{ErrorDetail: category}, started, log)
		return nil
	}
	p.finish(ctx, job, StatusCompleted, Update{ResultLocation: location}, started, log)
	return nil
}

// generate は成果物のロケーションを返します。失敗時は分類を返します。
func (p *Processor) generate(ctx context.Context, job *Job, log zerolog.Logger) (string, ErrorCategory) {
	owned, err := p.sources.CheckOwnership(ctx, job.UserID, job.SourceFileID)
	if err != nil {
		log.Error().Err(err).Msg("worker: ownership check failed")
		return "", CategoryUpstream
	}
	if !owned {
		log.Warn().Str("file_id", job.SourceFileID).Msg("worker: source document no longer owned by job owner")
		return "", CategoryInvalidSource
	}

	doc, err := p.sources.Lookup(ctx, job.SourceFileID)
	if err != nil {
		log.Error().Err(err).Msg("worker: source lookup failed")
		if errors.Is(err, documents.ErrNotFound) {
			return "", CategoryInvalidSource
		}
		return "", CategoryUpstream
	}
	source, err := p.objects.Get(ctx, doc.Location)
	if err != nil {
		log.Error().Err(err).Msg("worker: source fetch failed")
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", CategoryInvalidSource
		}
		return "", CategoryUpstream
	}
	info, err := p.inspect(source, p.limits)
	if err != nil {
		log.Warn().Err(err).Msg("worker: source document rejected")
		return "", CategoryInvalidSource
	}

	genCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	artifact, err := p.generator.Generate(genCtx, generation.Request{
		JobID:             job.JobID,
		Source:            source,
		SourceContentType: info.ContentType,
		JobDescription:    job.JobDescription,
		Parameters:        job.ModelParameters,
	})
	if err != nil {
		category := categorize(err)
		log.Error().Err(err).Str("category", string(category)).Msg("worker: generation failed")
		return "", category
	}

	body, err := artifact.Encode()
	if err != nil {
		log.Error().Err(err).Msg("worker: encode artifact failed")
		return "", CategoryUpstream
	}
	location, err := p.objects.Put(ctx, artifactKey(job.JobID), body, generation.ContentType)
	if err != nil {
		log.Error().Err(err).Msg("worker: store artifact failed")
		return "", CategoryUpstream
	}
	return location, ""
}

func (p *Processor) finish(ctx context.Context, job *Job, to Status, u Update, started time.Time, log zerolog.Logger) {
	// 呼び出し元のコンテキストがタイムアウトしていても最終状態は書き込む
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, err := p.store.CompareAndSetStatus(writeCtx, job.JobID, StatusProcessing, to, u); err != nil {
		log.Error().Err(err).Str("status", string(to)).Msg("worker: failed to record final status")
		p.metrics.RecordLost()
		return
	}
	p.metrics.RecordFinished(string(u.ErrorDetail), p.now().Sub(started))
	log.Info().
		Str("status", string(to)).
		Str("category", string(u.ErrorDetail)).
		Dur("elapsed", p.now().Sub(started)).
		Msg("worker: job finished")
}

func categorize(err error) ErrorCategory {
	switch {
	// 停止による中断も実行時間の打ち切りとして扱う。
	case errors.Is(err, generation.ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CategoryTimeout
	case errors.Is(err, generation.ErrInvalidSource):
		return CategoryInvalidSource
	default:
		return CategoryUpstream
	}
}

func artifactKey(jobID string) string {
	return "generations/" + jobID + "/result.json"
}
