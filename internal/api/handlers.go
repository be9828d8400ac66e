// Package api は生成ジョブとソースドキュメントの HTTP ハンドラーを提供します。
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/auth"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/documents"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/jobs"
)

// GenerationService はジョブの投入と照会を提供します。
type GenerationService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*jobs.SubmitResult, error)
	GetStatus(ctx context.Context, jobID, userID string) (*jobs.StatusView, error)
	ListHistory(ctx context.Context, userID string, q jobs.HistoryQuery) (*jobs.HistoryPage, error)
	ReadResult(ctx context.Context, jobID, userID string) (*jobs.Result, error)
}

// DocumentService はソースドキュメントのアップロードと参照を提供します。
type DocumentService interface {
	Upload(ctx context.Context, userID, filename string, data []byte) (*documents.Document, error)
	List(ctx context.Context, userID string) ([]*documents.Document, error)
	Get(ctx context.Context, userID, fileID string) (*documents.Document, error)
}

// CreditBalance はクレジット残高を返します。
type CreditBalance interface {
	Balance(ctx context.Context, userID string) (int, error)
}

// HandlerOptions はハンドラー共通の設定です。
type HandlerOptions struct {
	// ResultBaseURL は downloadUrl の前に付けるURLです。空なら相対パスを返します。
	ResultBaseURL  string
	MaxUploadBytes int64
}

type submitRequest struct {
	FileID         string   `json:"fileId" binding:"required"`
	JobDescription string   `json:"jobDescription" binding:"required"`
	Temperature    *float32 `json:"temperature"`
}

// SubmitHandler は POST /api/generations のハンドラーです。ジョブを作成して 202 を返します。
func SubmitHandler(svc GenerationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "fileId と jobDescription を JSON で送ってください。",
			})
			return
		}

		res, err := svc.Submit(c.Request.Context(), jobs.SubmitRequest{
			UserID:         userID,
			SourceFileID:   req.FileID,
			JobDescription: req.JobDescription,
			Temperature:    req.Temperature,
		})
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.Header("Location", "/api/generations/"+res.JobID)
		c.JSON(http.StatusAccepted, res)
	}
}

// StatusHandler は GET /api/generations/:id のハンドラーです。
func StatusHandler(svc GenerationService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		view, err := svc.GetStatus(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			respondWithError(c, err)
			return
		}

		payload := gin.H{
			"jobId":        view.JobID,
			"status":       view.Status,
			"sourceFileId": view.SourceFileID,
			"createdAt":    view.CreatedAt,
			"updatedAt":    view.UpdatedAt,
			"expiresAt":    view.ExpiresAt,
		}
		switch view.Status {
		case jobs.StatusCompleted:
			payload["resultLocation"] = view.ResultLocation
			payload["downloadUrl"] = downloadURL(opts.ResultBaseURL, view.JobID)
		case jobs.StatusFailed:
			payload["errorDetail"] = view.ErrorDetail
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, payload)
	}
}

// HistoryHandler は GET /api/generations のハンドラーです。
func HistoryHandler(svc GenerationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		limit := 0
		if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "limit は正の整数で指定してください。",
				})
				return
			}
			limit = n
		}

		page, err := svc.ListHistory(c.Request.Context(), userID, jobs.HistoryQuery{
			Cursor: c.Query("cursor"),
			Limit:  limit,
			Status: c.Query("status"),
		})
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// ResultHandler は GET /api/generations/:id/result のハンドラーです。成果物の JSON を返します。
func ResultHandler(svc GenerationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		result, err := svc.ReadResult(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			respondWithError(c, err)
			return
		}

		filename := result.JobID + ".json"
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", result.JobID)
		c.JSON(http.StatusOK, result.Artifact)
	}
}

// UploadHandler は POST /api/documents のハンドラーです。multipart の file を登録します。
func UploadHandler(svc DocumentService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data の file フィールドでPDFファイルを送信してください。",
			})
			return
		}
		if opts.MaxUploadBytes > 0 && file.Size > opts.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":    "LIMIT_EXCEEDED",
				"message": fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", opts.MaxUploadBytes),
			})
			return
		}

		f, err := file.Open()
		if err != nil {
			respondWithError(c, fmt.Errorf("open upload: %w", err))
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			respondWithError(c, fmt.Errorf("read upload: %w", err))
			return
		}

		doc, err := svc.Upload(c.Request.Context(), userID, file.Filename, data)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"fileId":   doc.FileID,
			"filename": doc.Filename,
			"size":     doc.Size,
			"pages":    doc.Pages,
		})
	}
}

type documentView struct {
	FileID     string    `json:"fileId"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Pages      int       `json:"pages"`
	UploadedAt time.Time `json:"uploadedAt"`
}

func newDocumentView(doc *documents.Document) documentView {
	return documentView{
		FileID:     doc.FileID,
		Filename:   doc.Filename,
		Size:       doc.Size,
		Pages:      doc.Pages,
		UploadedAt: doc.CreatedAt,
	}
}

// ListDocumentsHandler は GET /api/documents のハンドラーです。新しい順に返します。
func ListDocumentsHandler(svc DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		docs, err := svc.List(c.Request.Context(), userID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		views := make([]documentView, 0, len(docs))
		for _, doc := range docs {
			views = append(views, newDocumentView(doc))
		}
		c.JSON(http.StatusOK, gin.H{
			"documents": views,
			"count":     len(views),
		})
	}
}

// DocumentHandler は GET /api/documents/:id のハンドラーです。
func DocumentHandler(svc DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		doc, err := svc.Get(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, newDocumentView(doc))
	}
}

// CreditsHandler は GET /api/credits のハンドラーです。
func CreditsHandler(credits CreditBalance) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		remaining, err := credits.Balance(c.Request.Context(), userID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"creditsRemaining": remaining})
	}
}

func requireUser(c *gin.Context) (string, bool) {
	userID := auth.CurrentUser(c)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ログインが必要です",
		})
		return "", false
	}
	return userID, true
}

func downloadURL(base, jobID string) string {
	return strings.TrimRight(base, "/") + "/api/generations/" + jobID + "/result"
}
