package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/eligibility"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/generation"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/metrics"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/storage"
)

const (
	maxJobDescriptionRunes = 20000
	excerptRunes           = 120

	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Gate はジョブ作成前の認可を行います。
type Gate interface {
	Authorize(ctx context.Context, userID, fileID string) (*eligibility.Token, error)
	Release(ctx context.Context, token *eligibility.Token) error
}

// ServiceOptions は Service の設定です。
type ServiceOptions struct {
	// Defaults は投入時にジョブへ固定するモデル設定です。
	Defaults  generation.Parameters
	Retention time.Duration
	// Objects は成果物の読み出しに使います。nil の場合 ReadResult は使えません。
	Objects storage.ObjectStore
	Metrics *metrics.Collector
	Logger  zerolog.Logger
}

// Service はジョブの投入、状態照会、履歴一覧を提供します。
type Service struct {
	store      Store
	gate       Gate
	dispatcher Dispatcher
	objects    storage.ObjectStore
	defaults   generation.Parameters
	retention  time.Duration
	metrics    *metrics.Collector
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
}

// NewService は Service を作成します。
func NewService(store Store, gate Gate, dispatcher Dispatcher, opts ServiceOptions) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if gate == nil {
		return nil, errors.New("gate is nil")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is nil")
	}
	if opts.Defaults.Model == "" {
		return nil, errors.New("default model is required")
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	defaults := opts.Defaults
	if defaults.PromptVersion == "" {
		defaults.PromptVersion = generation.PromptVersion
	}
	return &Service{
		store:      store,
		gate:       gate,
		dispatcher: dispatcher,
		objects:    opts.Objects,
		defaults:   defaults,
		retention:  retention,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// SubmitRequest はジョブ投入の入力です。
type SubmitRequest struct {
	UserID         string
	SourceFileID   string
	JobDescription string
	// Temperature は既定値を上書きする場合のみ指定します。
	Temperature *float32
}

// SubmitResult はジョブ投入の結果です。
type SubmitResult struct {
	JobID            string    `json:"jobId"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	CreditsRemaining int       `json:"creditsRemaining"`
}

// Submit は認可の後に PENDING のジョブを作成し、非同期処理へ引き渡します。
// 生成の完了は待ちません。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	params, err := s.validateSubmit(&req)
	if err != nil {
		return nil, err
	}

	token, err := s.gate.Authorize(ctx, req.UserID, req.SourceFileID)
	if err != nil {
		switch {
		case errors.Is(err, eligibility.ErrNotOwned):
			s.metrics.RecordRejected("not_owned")
		case errors.Is(err, eligibility.ErrQuotaExhausted):
			s.metrics.RecordRejected("quota_exhausted")
		}
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	job := &Job{
		JobID:           s.newID(),
		UserID:          req.UserID,
		SourceFileID:    req.SourceFileID,
		Status:          StatusPending,
		JobDescription:  req.JobDescription,
		ModelParameters: params,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(s.retention),
	}
	log := s.logger.With().Str("job_id", job.JobID).Str("user_id", job.UserID).Logger()

	if err := s.store.Create(ctx, job); err != nil {
		s.release(ctx, token, log)
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.dispatcher.Dispatch(ctx, job.JobID); err != nil {
		log.Error().Err(err).Msg("submit: dispatch rejected")
		accepted := s.abandon(ctx, job.JobID, log)
		if !accepted {
			s.release(ctx, token, log)
			s.metrics.RecordDispatchFailed()
			return nil, &DispatchError{JobID: job.JobID, Err: err}
		}
	}

	s.metrics.RecordSubmitted()
	log.Info().Msg("submit: job accepted")
	return &SubmitResult{
		JobID:            job.JobID,
		Status:           StatusPending,
		CreatedAt:        job.CreatedAt,
		CreditsRemaining: token.RemainingCredits,
	}, nil
}

// abandon は配送に失敗したジョブを FAILED にします。
// ワーカーが既に確保していた場合は true を返し、投入は受理されたものとして扱います。
func (s *Service) abandon(ctx context.Context, jobID string, log zerolog.Logger) bool {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := s.store.CompareAndSetStatus(writeCtx, jobID, StatusPending, StatusFailed, Update{ErrorDetail: CategoryDispatchFailed})
	if errors.Is(err, ErrStaleStatus) {
		log.Warn().Msg("submit: job was claimed despite dispatch error")
		return true
	}
	if err != nil {
		log.Error().Err(err).Msg("submit: failed to mark undispatched job as failed")
	}
	return false
}

func (s *Service) release(ctx context.Context, token *eligibility.Token, log zerolog.Logger) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.gate.Release(writeCtx, token); err != nil {
		log.Error().Err(err).Msg("submit: failed to refund credit")
	}
}

func (s *Service) validateSubmit(req *SubmitRequest) (generation.Parameters, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.SourceFileID = strings.TrimSpace(req.SourceFileID)
	req.JobDescription = strings.TrimSpace(req.JobDescription)

	if req.UserID == "" {
		return generation.Parameters{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if req.SourceFileID == "" {
		return generation.Parameters{}, fmt.Errorf("%w: fileId is required", ErrInvalidInput)
	}
	if req.JobDescription == "" {
		return generation.Parameters{}, fmt.Errorf("%w: jobDescription is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(req.JobDescription) > maxJobDescriptionRunes {
		return generation.Parameters{}, fmt.Errorf("%w: jobDescription exceeds %d characters", ErrInvalidInput, maxJobDescriptionRunes)
	}

	params := s.defaults
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 2 {
			return generation.Parameters{}, fmt.Errorf("%w: temperature must be within [0, 2]", ErrInvalidInput)
		}
		params.Temperature = *req.Temperature
	}
	return params, nil
}

// StatusView は状態照会の結果です。
type StatusView struct {
	JobID          string        `json:"jobId"`
	Status         Status        `json:"status"`
	SourceFileID   string        `json:"sourceFileId"`
	ResultLocation string        `json:"resultLocation,omitempty"`
	ErrorDetail    ErrorCategory `json:"errorDetail,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	ExpiresAt      time.Time     `json:"expiresAt"`
}

// GetStatus は所有者確認の後にジョブの状態を返します。
func (s *Service) GetStatus(ctx context.Context, jobID, userID string) (*StatusView, error) {
	job, err := s.ownedJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		JobID:          job.JobID,
		Status:         job.Status,
		SourceFileID:   job.SourceFileID,
		ResultLocation: job.ResultLocation,
		ErrorDetail:    job.ErrorDetail,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		ExpiresAt:      job.ExpiresAt,
	}, nil
}

// HistoryQuery は履歴一覧の条件です。
type HistoryQuery struct {
	Cursor string
	Limit  int
	Status string
}

// HistoryItem は履歴一覧の1件です。
type HistoryItem struct {
	JobID          string        `json:"jobId"`
	Status         Status        `json:"status"`
	SourceFileID   string        `json:"sourceFileId"`
	JobDescription string        `json:"jobDescription"`
	ErrorDetail    ErrorCategory `json:"errorDetail,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// HistoryPage は履歴一覧の結果です。
type HistoryPage struct {
	Jobs       []HistoryItem `json:"jobs"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

// ListHistory はユーザーのジョブを新しい順に返します。
func (s *Service) ListHistory(ctx context.Context, userID string, q HistoryQuery) (*HistoryPage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	var status Status
	if q.Status != "" {
		parsed, err := ParseStatus(q.Status)
		if err != nil {
			return nil, err
		}
		status = parsed
	}

	page, err := s.store.ListByUser(ctx, userID, ListQuery{
		Cursor: q.Cursor,
		Limit:  limit,
		Status: status,
	})
	if err != nil {
		return nil, err
	}

	items := make([]HistoryItem, 0, len(page.Jobs))
	for _, job := range page.Jobs {
		items = append(items, HistoryItem{
			JobID:          job.JobID,
			Status:         job.Status,
			SourceFileID:   job.SourceFileID,
			JobDescription: excerpt(job.JobDescription, excerptRunes),
			ErrorDetail:    job.ErrorDetail,
			CreatedAt:      job.CreatedAt,
			UpdatedAt:      job.UpdatedAt,
		})
	}
	return &HistoryPage{Jobs: items, NextCursor: page.NextCursor}, nil
}

// Result は完了したジョブの成果物です。
type Result struct {
	JobID    string
	Artifact *generation.Artifact
}

// ReadResult は COMPLETED のジョブの成果物を読み出します。
func (s *Service) ReadResult(ctx context.Context, jobID, userID string) (*Result, error) {
	if s.objects == nil {
		return nil, errors.New("object store is not configured")
	}
	job, err := s.ownedJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: job %s is %s", ErrResultNotReady, jobID, job.Status)
	}
	data, err := s.objects.Get(ctx, job.ResultLocation)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", jobID, err)
	}
	artifact, err := generation.DecodeArtifact(data)
	if err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", jobID, err)
	}
	return &Result{JobID: job.JobID, Artifact: artifact}, nil
}

func (s *Service) ownedJob(ctx context.Context, jobID, userID string) (*Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", ErrInvalidInput)
	}
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrForbidden
	}
	return job, nil
}

func excerpt(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}
