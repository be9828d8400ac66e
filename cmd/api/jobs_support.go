package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/api"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/bootstrap"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/config"
)

func setupGenerationRoutes(group *gin.RouterGroup, cfg *config.Config, app *bootstrap.App) {
	opts := api.HandlerOptions{
		ResultBaseURL:  cfg.JobResultBaseURL,
		MaxUploadBytes: cfg.MaxFileSize,
	}

	group.POST("/documents", api.UploadHandler(app.Documents, opts))
	group.GET("/documents", api.ListDocumentsHandler(app.Documents))
	group.GET("/documents/:id", api.DocumentHandler(app.Documents))
	group.GET("/credits", api.CreditsHandler(app.Ledger))

	generations := group.Group("/generations")
	{
		generations.POST("", api.SubmitHandler(app.Service))
		generations.GET("", api.HistoryHandler(app.Service))
		generations.GET("/:id", api.StatusHandler(app.Service, opts))
		generations.GET("/:id/result", api.ResultHandler(app.Service))
	}
}

// runEmbeddedWorker は API プロセス内でワーカーを ctx が終わるまで動かします。
// 開発環境で別プロセスを起動せずに済ませるためのものです。
func runEmbeddedWorker(ctx context.Context, app *bootstrap.App, log zerolog.Logger) error {
	manager, err := app.NewManager(log)
	if err != nil {
		return err
	}
	log.Info().Msg("running embedded worker")
	return manager.Run(ctx)
}

func readinessHandler(app *bootstrap.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := app.Redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"redis":  "unreachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
