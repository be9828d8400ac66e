// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	AppUsers      string // ログイン可能なユーザー（name:bcryptHash をカンマ区切り）
	SessionSecret string // セッション署名用の秘密鍵

	// サーバー設定
	Port     string // APIサーバーのポート番号
	GinMode  string // Ginの実行モード (debug, release, test)
	LogLevel string // zerolog のログレベル

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// アップロード制限
	MaxFileSize int64 // 元ドキュメントの最大サイズ（バイト）
	MaxPages    int   // 元ドキュメントの最大ページ数

	// ジョブ/キュー設定
	QueueRedisURL            string // Asynq とジョブストア用の Redis 接続URL
	JobStore                 string // ジョブストアの実装 (redis, mongo)
	MongoURI                 string // JobStore=mongo の場合の接続URI
	MongoDatabase            string // JobStore=mongo の場合のデータベース名
	JobRetentionHours        int    // ジョブレコードの保持期間（時間）
	JobMaxProcessingMinutes  int    // PROCESSING のまま許容される最大時間（分）
	GenerationTimeoutSeconds int    // 生成バックエンド呼び出しのタイムアウト（秒）
	SweepIntervalSeconds     int    // 滞留ジョブ掃除の実行間隔（秒）
	SweepBatchSize           int    // 1回の掃除で処理する最大件数
	WorkerConcurrency        int    // ワーカーの並列数
	DispatchMaxRetry         int    // 配送失敗時の最大リトライ回数
	RunEmbeddedWorker        bool   // API プロセス内でワーカーを起動するか
	WorkerMetricsPort        string // ワーカープロセスのメトリクス公開ポート
	JobResultBaseURL         string // 成果物取得用のベースURL

	// クレジット設定
	FreeCredits int // 新規ユーザーに付与する無料クレジット数

	// ストレージ設定
	StorageBackend string // オブジェクトストレージ (local, gcs)
	StorageDir     string // local の保存先ディレクトリ

	// 生成バックエンド設定
	GenerationBackend     string  // 生成バックエンド (vertex, offline)
	GenerationModel       string  // 生成に使用するモデル名
	GenerationTemperature float64 // 既定の temperature
	GenerationMaxTokens   int     // 最大出力トークン数

	// GCP設定（本番環境用）
	GCPProject   string // GCPプロジェクトID
	GCSBucket    string // Google Cloud Storageバケット名
	VertexRegion string // Vertex AI のリージョン
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// アプリケーション設定
		AppUsers:      getEnv("APP_USERS", ""),
		SessionSecret: getEnv("SESSION_SECRET", ""),

		// サーバー設定
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// アップロード制限
		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 10*1024*1024), // 10MB
		MaxPages:    getEnvAsInt("MAX_PAGES", 20),

		// ジョブ/キュー設定
		QueueRedisURL:            getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		JobStore:                 getEnv("JOB_STORE", "redis"),
		MongoURI:                 getEnv("MONGO_URI", ""),
		MongoDatabase:            getEnv("MONGO_DATABASE", "pdf_summarizer"),
		JobRetentionHours:        getEnvAsInt("JOB_RETENTION_HOURS", 24),
		JobMaxProcessingMinutes:  getEnvAsInt("JOB_MAX_PROCESSING_MINUTES", 15),
		GenerationTimeoutSeconds: getEnvAsInt("GENERATION_TIMEOUT_SECONDS", 600),
		SweepIntervalSeconds:     getEnvAsInt("SWEEP_INTERVAL_SECONDS", 60),
		SweepBatchSize:           getEnvAsInt("SWEEP_BATCH_SIZE", 100),
		WorkerConcurrency:        getEnvAsInt("WORKER_CONCURRENCY", 4),
		DispatchMaxRetry:         getEnvAsInt("DISPATCH_MAX_RETRY", 3),
		RunEmbeddedWorker:        getEnvAsBool("RUN_EMBEDDED_WORKER", false),
		WorkerMetricsPort:        getEnv("WORKER_METRICS_PORT", "9090"),
		JobResultBaseURL:         getEnv("JOB_RESULT_BASE_URL", ""),

		// クレジット設定
		FreeCredits: getEnvAsInt("FREE_CREDITS", 3),

		// ストレージ設定
		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		StorageDir:     getEnv("STORAGE_DIR", "./data"),

		// 生成バックエンド設定
		GenerationBackend:     getEnv("GENERATION_BACKEND", "offline"),
		GenerationModel:       getEnv("GENERATION_MODEL", "gemini-2.5-pro"),
		GenerationTemperature: getEnvAsFloat("GENERATION_TEMPERATURE", 0.4),
		GenerationMaxTokens:   getEnvAsInt("GENERATION_MAX_OUTPUT_TOKENS", 8192),

		// GCP設定
		GCPProject:   getEnv("GCP_PROJECT", ""),
		GCSBucket:    getEnv("GCS_BUCKET", ""),
		VertexRegion: getEnv("VERTEX_REGION", "us-central1"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では認証設定は任意
	if c.GinMode == "release" {
		if c.AppUsers == "" {
			return fmt.Errorf("APP_USERS is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
	}

	switch c.JobStore {
	case "redis":
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when JOB_STORE=mongo")
		}
	default:
		return fmt.Errorf("unsupported JOB_STORE: %q", c.JobStore)
	}

	switch c.StorageBackend {
	case "local":
		if c.StorageDir == "" {
			return fmt.Errorf("STORAGE_DIR is required when STORAGE_BACKEND=local")
		}
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when STORAGE_BACKEND=gcs")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND: %q", c.StorageBackend)
	}

	switch c.GenerationBackend {
	case "offline":
	case "vertex":
		if c.GCPProject == "" {
			return fmt.Errorf("GCP_PROJECT is required when GENERATION_BACKEND=vertex")
		}
	default:
		return fmt.Errorf("unsupported GENERATION_BACKEND: %q", c.GenerationBackend)
	}

	if c.JobRetentionHours <= 0 {
		return fmt.Errorf("JOB_RETENTION_HOURS must be positive")
	}
	if c.GenerationTimeoutSeconds <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT_SECONDS must be positive")
	}
	if c.MaxProcessing() <= c.GenerationTimeout() {
		return fmt.Errorf("JOB_MAX_PROCESSING_MINUTES must exceed GENERATION_TIMEOUT_SECONDS")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.FreeCredits < 0 {
		return fmt.Errorf("FREE_CREDITS must not be negative")
	}
	if c.GenerationTemperature < 0 || c.GenerationTemperature > 2 {
		return fmt.Errorf("GENERATION_TEMPERATURE must be within [0, 2]")
	}

	return nil
}

// Retention はジョブレコードの保持期間を返します。
func (c *Config) Retention() time.Duration {
	return time.Duration(c.JobRetentionHours) * time.Hour
}

// MaxProcessing は PROCESSING 状態の最大許容時間を返します。
func (c *Config) MaxProcessing() time.Duration {
	return time.Duration(c.JobMaxProcessingMinutes) * time.Minute
}

// GenerationTimeout は生成呼び出しのタイムアウトを返します。
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}

// SweepInterval は滞留ジョブ掃除の実行間隔を返します。
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Users は APP_USERS を name -> bcrypt hash のマップに変換します。
func (c *Config) Users() map[string]string {
	users := make(map[string]string)
	for _, entry := range strings.Split(c.AppUsers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		hash = strings.TrimSpace(hash)
		if !ok || name == "" || hash == "" {
			continue
		}
		users[name] = hash
	}
	return users
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
