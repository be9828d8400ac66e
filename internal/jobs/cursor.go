package jobs

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// pageCursor は履歴一覧の続きの位置です。(createdAt ミリ秒, jobId) の降順で直前の要素を指します。
type pageCursor struct {
	CreatedAtMs int64
	JobID       string
}

func (c pageCursor) encode() string {
	raw := strconv.FormatInt(c.CreatedAtMs, 10) + ":" + c.JobID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(v string) (*pageCursor, error) {
	if v == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidInput)
	}
	ms, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidInput)
	}
	createdAt, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidInput)
	}
	return &pageCursor{CreatedAtMs: createdAt, JobID: id}, nil
}

// after は (ms, id) がカーソルより後ろ（降順で次）にあるかを返します。
func (c *pageCursor) after(ms int64, id string) bool {
	if c == nil {
		return true
	}
	if ms != c.CreatedAtMs {
		return ms < c.CreatedAtMs
	}
	return id < c.JobID
}

func cursorFor(job *Job) string {
	return pageCursor{CreatedAtMs: job.CreatedAt.UnixMilli(), JobID: job.JobID}.encode()
}
