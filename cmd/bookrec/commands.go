package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/metrics"
	"github.com/rushteam/bookrec/pkg/logging"
	"github.com/rushteam/bookrec/recommend"
)

type options struct {
	configPath string
	catalog    string
	user       string
	limit      int
	logLevel   string
}

func rootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "bookrec",
		Short:         "bookrec - hybrid book recommendations over a catalog snapshot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "path to config YAML")
	f.StringVar(&opts.catalog, "catalog", "", "path to catalog YAML (overrides config)")
	f.StringVarP(&opts.user, "user", "u", "", "current user id")
	f.IntVarP(&opts.limit, "limit", "n", 0, "number of books to return (overrides config)")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		homeCmd(opts),
		suggestCmd(opts),
		similarCmd(opts),
		popularCmd(opts),
		searchCmd(opts),
		publishCmd(opts),
		runCmd(opts),
	)
	return cmd
}

// loadConfig 合并配置文件与命令行参数。
func (o *options) loadConfig() (recommend.Config, error) {
	cfg, err := recommend.LoadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.catalog != "" {
		cfg.Catalog = o.catalog
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.limit > 0 {
		cfg.CF.Limit = o.limit
		cfg.Content.Limit = o.limit
		if cfg.Content.PoolSize < o.limit {
			cfg.Content.PoolSize = o.limit
		}
		cfg.Tag.TopN = o.limit
		cfg.Popular.Limit = o.limit
	}
	return cfg, nil
}

// withEngine 装配 Engine 并执行 fn，结束后释放外部连接。
func (o *options) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *recommend.Engine) (any, error)) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	cfg.Logging.Output = cmd.ErrOrStderr()
	logging.Init(cfg.Logging)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	m := metrics.New(prometheus.NewRegistry())
	engine, closeFn, err := recommend.Open(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			logging.L().Warn().Err(err).Msg("close")
		}
	}()

	out, err := fn(ctx, engine)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func homeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "Popular books plus collaborative suggestions for --user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *recommend.Engine) (any, error) {
				return e.Home(ctx, opts.user)
			})
		},
	}
}

func suggestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <query>",
		Short: "Content recommendations for a free-text query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *recommend.Engine) (any, error) {
				res := e.Suggest(ctx, args[0], opts.user)
				if res.Failed() {
					return nil, fmt.Errorf("%s", res.Reason)
				}
				return res, nil
			})
		},
	}
}

func parseBookID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid book id %q: %w", s, err)
	}
	return id, nil
}

func similarCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "similar <book-id>",
		Short: "Books whose tags are most similar to the given book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *recommend.Engine) (any, error) {
				return e.ByTag(ctx, opts.user, id)
			})
		},
	}
}

func popularCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "popular",
		Short: "Most popular books, excluding those --user rated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *recommend.Engine) (any, error) {
				return e.PopularFor(ctx, opts.user)
			})
		},
	}
}

func searchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search <title>",
		Short: "Case-insensitive title search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(_ context.Context, e *recommend.Engine) (any, error) {
				return e.Search(args[0]), nil
			})
		},
	}
}

func publishCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "publish-popular",
		Short: "Compute the popular list and write it to the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, e *recommend.Engine) (any, error) {
				if e.Popular.Store == nil {
					return nil, fmt.Errorf("publish-popular: no redis configured")
				}
				return e.PublishPopular(ctx, e.Popular.Store, cfg.Popular.Key, cfg.Popular.Limit)
			})
		},
	}
}

func runCmd(opts *options) *cobra.Command {
	var (
		query  string
		bookID int64
		scene  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline configured under `pipeline:`",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *recommend.Engine) (any, error) {
				rctx := &core.RecommendContext{UserID: opts.user, Scene: scene, Params: map[string]any{}}
				if query != "" {
					rctx.Params[core.ParamQuery] = query
				}
				if bookID != 0 {
					rctx.Params[core.ParamBookID] = bookID
				}
				if opts.limit > 0 {
					rctx.Params[core.ParamLimit] = opts.limit
				}
				return e.Run(ctx, rctx)
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "free-text query for content recall")
	cmd.Flags().Int64Var(&bookID, "book", 0, "seed book id for tag recall")
	cmd.Flags().StringVar(&scene, "scene", "custom", "scene name passed to the pipeline")
	return cmd
}
