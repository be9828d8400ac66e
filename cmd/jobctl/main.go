// Package main は生成ジョブの管理CLIです。
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/bootstrap"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/cli"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/config"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/logger"
)

func main() {
	cmd := cli.BuildCLI(load)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func load(ctx context.Context) (*cli.Deps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	// 出力を汚さないようログは stderr に警告以上だけ出す
	log := logger.New("release", "warn").Output(os.Stderr).Level(zerolog.WarnLevel)

	app, err := bootstrap.Build(ctx, cfg, log, nil)
	if err != nil {
		return nil, nil, err
	}
	deps := &cli.Deps{
		Store:   app.Store,
		Sweeper: app.Sweeper,
		Ledger:  app.Ledger,
	}
	return deps, func() { _ = app.Close(context.Background()) }, nil
}
