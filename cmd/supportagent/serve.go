package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/handler"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/job"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/mcpserver"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/middleware"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/schedule"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var noJobs bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the chat http api and the background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				return runServer(ctx, a, !noJobs)
			})
		},
	}
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "do not start the scheduled jobs")
	return cmd
}

func runServer(ctx context.Context, a *app, withJobs bool) error {
	cfg := a.cfg
	logger := logutil.GetLogger(ctx)

	if withJobs {
		scheduler := schedule.NewCronScheduler()
		jobs := []struct {
			job  schedule.Job
			spec string
		}{
			{job.NewEmbedJob(a.pipeline), cfg.Schedule.EmbedSpec},
			{job.NewReconcileJob(a.reconcile, cfg.Schedule.ReconcileRepair), cfg.Schedule.ReconcileSpec},
			{job.NewEmbeddingCacheCleanupJob(a.cacheRepo, cfg.Schedule.CacheMaxAgeDays), cfg.Schedule.CacheCleanupSpec},
		}
		for _, j := range jobs {
			if err := scheduler.AddJob(j.job, j.spec); err != nil {
				return err
			}
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	deps := handler.RouterDeps{
		Chat:       handler.NewChatHandler(a.conversations),
		Documents:  handler.NewDocumentHandler(a.ingest, a.indexer, a.stats),
		ChatWindow: millis(cfg.Answer.ChatRateLimit),
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestLog(),
			middleware.CORS(cfg.AllowOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logger.Info("http server listening", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := engine.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("server stopping...")
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "expose the answer engine as an MCP server over stdio or http",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				srv, err := mcpserver.New(a.answers, a.stats)
				if err != nil {
					return err
				}
				if httpAddr != "" {
					logutil.GetLogger(ctx).Info("mcp server listening", zap.String("addr", httpAddr))
					return srv.RunHTTP(ctx, httpAddr)
				}
				return srv.Run(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable http on this address instead of stdio")
	return cmd
}
