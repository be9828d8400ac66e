package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/documents"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/eligibility"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/jobs"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/pdf"
)

// respondWithError はエラーを {"code","message"} 形式のレスポンスに変換します。
// 上流のエラー文言はクライアントに返しません。
func respondWithError(c *gin.Context, err error) {
	var (
		pdfErr      *pdf.Error
		dispatchErr *jobs.DispatchError
	)
	switch {
	case errors.As(err, &pdfErr):
		status := http.StatusBadRequest
		if pdfErr.Code == "LIMIT_EXCEEDED" {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{
			"code":    pdfErr.Code,
			"message": pdfErr.Message,
		})
	case errors.Is(err, jobs.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "入力内容が正しくありません。",
		})
	case errors.Is(err, eligibility.ErrQuotaExhausted):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"code":    "QUOTA_EXHAUSTED",
			"message": "生成クレジットが残っていません。",
		})
	case errors.Is(err, eligibility.ErrNotOwned), errors.Is(err, jobs.ErrForbidden), errors.Is(err, documents.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"code":    "FORBIDDEN",
			"message": "このリソースへのアクセス権がありません。",
		})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定されたジョブは存在しません。",
		})
	case errors.Is(err, documents.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "DOCUMENT_NOT_FOUND",
			"message": "指定されたドキュメントは存在しません。",
		})
	case errors.Is(err, jobs.ErrResultNotReady):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "RESULT_NOT_READY",
			"message": "ジョブはまだ完了していません。",
		})
	case errors.As(err, &dispatchErr):
		logFor(c).Error().Err(err).Str("job_id", dispatchErr.JobID).Msg("api: dispatch failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "DISPATCH_FAILED",
			"message": "ジョブを開始できませんでした。時間をおいて再度お試しください。",
			"jobId":   dispatchErr.JobID,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		logFor(c).Error().Err(err).Msg("api: internal error")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func logFor(c *gin.Context) *zerolog.Logger {
	return zerolog.Ctx(c.Request.Context())
}
