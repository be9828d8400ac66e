package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound はジョブが存在しないか保持期限切れの場合に返されます。
	ErrNotFound = errors.New("jobs: job not found")
	// ErrForbidden は要求ユーザーがジョブの所有者でない場合に返されます。
	ErrForbidden = errors.New("jobs: job belongs to another user")
	// ErrStaleStatus は compare-and-set で現在の状態が期待値と異なった場合に返されます。
	ErrStaleStatus = errors.New("jobs: status changed concurrently")
	// ErrInvalidTransition は状態機械で定義されていない遷移の場合に返されます。
	ErrInvalidTransition = errors.New("jobs: invalid status transition")
	// ErrDuplicateJob は同じ jobId のレコードが既に存在する場合に返されます。
	ErrDuplicateJob = errors.New("jobs: duplicate job id")
	// ErrInvalidInput はリクエストの値が不正な場合に返されます。
	ErrInvalidInput = errors.New("jobs: invalid input")
	// ErrResultNotReady は COMPLETED でないジョブの成果物を要求した場合に返されます。
	ErrResultNotReady = errors.New("jobs: result not ready")
	// ErrDispatchRejected は非同期キューへの投入が拒否された場合に返されます。
	ErrDispatchRejected = errors.New("jobs: dispatch rejected")
)

// DispatchError は配送に失敗したジョブの ID を保持します。
type DispatchError struct {
	JobID string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("jobs: dispatch job %s: %v", e.JobID, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	return []error{ErrDispatchRejected, e.Err}
}
