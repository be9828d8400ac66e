// Package cli は生成ジョブの管理コマンド jobctl を提供します。
//
//	jobctl get <jobId>
//	jobctl list <userId> [--status S] [--limit N] [--cursor C]
//	jobctl sweep
//	jobctl credits <userId>
//
// すべてのコマンドは -o json|yaml で出力形式を切り替えられます。
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/jobs"
)

// Sweeper は滞留ジョブの掃除を1回実行します。
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CreditLedger はクレジット残高を返します。
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (int, error)
}

// Deps はコマンドが使う依存関係です。
type Deps struct {
	Store   jobs.Store
	Sweeper Sweeper
	Ledger  CreditLedger
}

// Loader はコマンド実行時に依存関係を組み立てます。返された close はコマンドの終了時に呼ばれます。
type Loader func(ctx context.Context) (*Deps, func(), error)

type options struct {
	output string
	load   Loader
}

// withDeps は依存関係を組み立てて fn を実行し、終了後に解放します。
func (o *options) withDeps(cmd *cobra.Command, fn func(ctx context.Context, deps *Deps) error) error {
	if o.load == nil {
		return errors.New("no dependency loader configured")
	}
	deps, closeFn, err := o.load(cmd.Context())
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return fn(cmd.Context(), deps)
}

// BuildCLI はルートコマンドを作成します。
func BuildCLI(load Loader) *cobra.Command {
	opts := &options{load: load}

	rootCmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Inspect and maintain resume generation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.output != "json" && opts.output != "yaml" {
				return fmt.Errorf("unsupported output format %q (json|yaml)", opts.output)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "output format: json or yaml")

	rootCmd.AddCommand(buildGetCommand(opts))
	rootCmd.AddCommand(buildListCommand(opts))
	rootCmd.AddCommand(buildSweepCommand(opts))
	rootCmd.AddCommand(buildCreditsCommand(opts))
	return rootCmd
}

func buildGetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <jobId>",
		Short: "Show a single job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, func(ctx context.Context, deps *Deps) error {
				job, err := deps.Store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, job)
			})
		},
	}
}

func buildListCommand(opts *options) *cobra.Command {
	var (
		status string
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "list <userId>",
		Short: "List a user's jobs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s jobs.Status
			if status != "" {
				parsed, err := jobs.ParseStatus(status)
				if err != nil {
					return err
				}
				s = parsed
			}
			return opts.withDeps(cmd, func(ctx context.Context, deps *Deps) error {
				page, err := deps.Store.ListByUser(ctx, args[0], jobs.ListQuery{
					Cursor: cursor,
					Limit:  limit,
					Status: s,
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, map[string]any{
					"jobs":       page.Jobs,
					"nextCursor": page.NextCursor,
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (PENDING, PROCESSING, COMPLETED, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", jobs.DefaultPageSize, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor returned by a previous page")
	return cmd
}

func buildSweepCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail jobs stuck in PROCESSING past the processing limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withDeps(cmd, func(ctx context.Context, deps *Deps) error {
				n, err := deps.Sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, map[string]int{"failed": n})
			})
		},
	}
}

func buildCreditsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "credits <userId>",
		Short: "Show a user's remaining generation credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDeps(cmd, func(ctx context.Context, deps *Deps) error {
				n, err := deps.Ledger.Balance(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, map[string]any{
					"userId":           args[0],
					"creditsRemaining": n,
				})
			})
		},
	}
}

// render は v を JSON のキー名のまま出力します。
func render(w io.Writer, format string, v any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	// yaml でも json タグの名前を使うため一度 JSON を経由する
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
