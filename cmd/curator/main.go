// Package main provides the curator binary: it ingests candidate posts,
// judges them with an LLM persona and serves the human review API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"post-curator/internal/config"
	"post-curator/internal/handler"
	"post-curator/internal/repository"
	"post-curator/internal/scheduler"
	"post-curator/internal/source"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const Version = "0.3.0"

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "curator",
		Short:         "Judge candidate posts against a persona and review the results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yml", "Config file path (YAML)")

	cmd.AddCommand(
		serveCmd(),
		runCmd(),
		migrateCmd(),
		resetCmd(),
		evaluateCmd(),
		quickFilterCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("curator version %s\n", Version)
			},
		},
	)
	return cmd
}

// setup loads config and builds the logger. The returned logger must be synced.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the review API and scheduled batch runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Judge.WatchPersona {
		if err := a.persona.Watch(ctx); err != nil {
			logger.Warn("Persona hot reload disabled", zap.Error(err))
		}
	}

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sources, err := source.FromConfig(cfg.Sources, logger)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return errors.New("schedule is enabled but no sources are configured")
		}
		collector := source.NewCollector(sources, logger)

		sched, err = scheduler.New(cfg.Schedule.Timezone, logger)
		if err != nil {
			return err
		}
		err = sched.AddJob("batch", cfg.Schedule.Cron, func(ctx context.Context) error {
			summary, err := a.curator.RunSources(ctx, collector)
			if summary != nil {
				logger.Info("Scheduled batch summary",
					zap.String("run_id", summary.RunID),
					zap.Int("approved", summary.Approved),
					zap.Int("rejected", summary.Rejected))
			}
			return err
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(ctx) })
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Secret")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	h := handler.NewHandler(a.curator, a.posts, a.calibration, a.metrics, cfg.Server.AdminSecret, logger)
	if sched != nil {
		h.SetJobs(sched)
	}
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	g.Go(func() error {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Server.AdminSecret == "" {
		logger.Warn("No admin secret configured, mutating routes are disabled")
	}
	logger.Info("Curator is running",
		zap.String("port", cfg.Server.Port),
		zap.Bool("schedule", cfg.Schedule.Enabled))

	return g.Wait()
}

func runCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch posts once and judge the new ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signalContext()
			defer stop()

			var src source.Source
			if file != "" {
				src = source.NewFileFeed(file)
			} else {
				sources, err := source.FromConfig(cfg.Sources, logger)
				if err != nil {
					return err
				}
				if len(sources) == 0 {
					return errors.New("no sources configured, pass --file or add sources to the config")
				}
				src = source.NewCollector(sources, logger)
			}

			a, err := newApp(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.curator.RunSources(ctx, src)
			if summary != nil {
				if perr := printJSON(summary); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read posts from a JSON file instead of the configured sources")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := repository.Open(cfg.Database.Type, cfg.Database.Path, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := repository.MigrateDB(db, logger)
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d\n", version)
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	var yes, conversation bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored post and setting",
		Long: "Delete every stored post and setting. With --conversation only the stored\n" +
			"judge conversation handle is dropped, so the next batch starts a fresh one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			msg, err := a.reset(ctx, conversation)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	cmd.Flags().BoolVar(&conversation, "conversation", false, "Only clear the stored judge conversation handle")
	return cmd
}

func evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <text>",
		Short: "Judge a piece of text without storing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(func(ctx context.Context, a *app, text string) (interface{}, error) {
				return a.curator.Evaluate(ctx, text)
			}, strings.Join(args, " "))
		},
	}
}

func quickFilterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quick-filter <text>",
		Short: "Run the cheap screening call on a piece of text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(func(ctx context.Context, a *app, text string) (interface{}, error) {
				return a.curator.QuickFilter(ctx, text)
			}, strings.Join(args, " "))
		},
	}
}

func oneShot(call func(ctx context.Context, a *app, text string) (interface{}, error), text string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := call(ctx, a, text)
	if err != nil {
		return err
	}
	return printJSON(result)
}
