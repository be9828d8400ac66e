// Package logger は zerolog ベースのロガーを構築します。
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New はGinの実行モードとログレベル文字列からロガーを作成します。
// debug モードでは人間向けのコンソール出力、それ以外は JSON 出力になります。
func New(mode, level string) zerolog.Logger {
	return newWithWriter(os.Stdout, mode, level)
}

func newWithWriter(w io.Writer, mode, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if mode == "debug" && lvl > zerolog.DebugLevel {
		lvl = zerolog.DebugLevel
	}

	logger := zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	if mode == "debug" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	}
	return logger
}
