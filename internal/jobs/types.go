// Package jobs は非同期生成ジョブの状態管理、投入、ワーカー処理を提供します。
package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/generation"
)

// Status はジョブの状態を表します。
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Valid は定義済みの状態かどうかを返します。
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal は COMPLETED または FAILED かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo はワーカーによる通常の遷移が許されるかを返します。
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// ParseStatus は大文字小文字を区別せずに Status を解釈します。
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, v)
	}
	return s, nil
}

// ErrorCategory は FAILED ジョブに記録されるサニタイズ済みのエラー分類です。
type ErrorCategory string

const (
	CategoryUpstream       ErrorCategory = "UPSTREAM_ERROR"
	CategoryTimeout        ErrorCategory = "TIMEOUT"
	CategoryInvalidSource  ErrorCategory = "INVALID_SOURCE"
	CategoryDispatchFailed ErrorCategory = "DISPATCH_FAILED"
)

// Valid は定義済みの分類かどうかを返します。
func (c ErrorCategory) Valid() bool {
	switch c {
	case CategoryUpstream, CategoryTimeout, CategoryInvalidSource, CategoryDispatchFailed:
		return true
	}
	return false
}

// Job は生成ジョブのレコードです。
type Job struct {
	JobID           string                `json:"jobId" bson:"_id"`
	UserID          string                `json:"userId" bson:"userId"`
	SourceFileID    string                `json:"sourceFileId" bson:"sourceFileId"`
	Status          Status                `json:"status" bson:"status"`
	JobDescription  string                `json:"jobDescription" bson:"jobDescription"`
	ModelParameters generation.Parameters `json:"modelParameters" bson:"modelParameters"`
	ResultLocation  string                `json:"resultLocation,omitempty" bson:"resultLocation,omitempty"`
	ErrorDetail     ErrorCategory         `json:"errorDetail,omitempty" bson:"errorDetail,omitempty"`
	CreatedAt       time.Time             `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt" bson:"updatedAt"`
	ExpiresAt       time.Time             `json:"expiresAt" bson:"expiresAt"`
}

// Expired は now の時点で保持期限を過ぎているかを返します。
func (j *Job) Expired(now time.Time) bool {
	return !j.ExpiresAt.After(now)
}

// Update は状態遷移と同時に書き込むフィールドです。
type Update struct {
	ResultLocation string
	ErrorDetail    ErrorCategory
}

// checkTransition は from -> to の遷移と付随フィールドの組み合わせを検証します。
// PENDING -> FAILED は配送失敗 (DISPATCH_FAILED) の場合のみ許可されます。
func checkTransition(from, to Status, u Update) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	allowed := from.CanTransitionTo(to) ||
		(from == StatusPending && to == StatusFailed && u.ErrorDetail == CategoryDispatchFailed)
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	switch to {
	case StatusCompleted:
		if strings.TrimSpace(u.ResultLocation) == "" || u.ErrorDetail != "" {
			return fmt.Errorf("%w: COMPLETED requires resultLocation only", ErrInvalidTransition)
		}
	case StatusFailed:
		if !u.ErrorDetail.Valid() || u.ResultLocation != "" {
			return fmt.Errorf("%w: FAILED requires errorDetail only", ErrInvalidTransition)
		}
		if u.ErrorDetail == CategoryDispatchFailed && from != StatusPending {
			return fmt.Errorf("%w: DISPATCH_FAILED only applies to PENDING jobs", ErrInvalidTransition)
		}
	default:
		if u.ResultLocation != "" || u.ErrorDetail != "" {
			return fmt.Errorf("%w: %s carries no result or error", ErrInvalidTransition, to)
		}
	}
	return nil
}

func applyTransition(job *Job, to Status, u Update, now time.Time) {
	job.Status = to
	job.ResultLocation = u.ResultLocation
	job.ErrorDetail = u.ErrorDetail
	job.UpdatedAt = now
}
