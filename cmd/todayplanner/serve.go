package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"today-planner/internal/api"
	"today-planner/internal/bot"
	"today-planner/internal/identity"
	"today-planner/internal/model"
	"today-planner/internal/repository"
	"today-planner/internal/service"
)

func addServe(topLevel *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the HTTP API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	topLevel.AddCommand(cmd)
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog.Close()

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeDB(db)

	markers, closeMarkers, err := openMarkers(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeMarkers.Close()

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)

	boards := service.NewBoards()
	tasks := service.NewTaskService(taskRepo, boards, cfg.WriteConcurrency)
	reorder := service.NewReorderer(taskRepo, cfg.WriteConcurrency)
	rollover := service.NewRolloverService(taskRepo, markers, cfg.Location, cfg.WriteConcurrency)
	scheduler := service.NewSchedulerService(cfg.Location, rollover)
	summary := service.NewSummaryService(taskRepo)
	provider := identity.NewProvider()

	defer scheduler.Bind(provider)()
	defer provider.OnAuthStateChanged(func(st identity.State) {
		if !st.SignedIn {
			boards.Drop(st.UserID)
		}
	})()

	var (
		srv *api.Server
		hub *api.Hub
		tg  *bot.Bot
	)

	if cfg.HTTPEnabled() {
		hub = api.NewHub(provider)
		srv = api.NewServer(tasks, reorder, scheduler, hub, cfg.JWTSecret, cfg.CORSOrigins)
	}
	if cfg.TelegramEnabled() {
		tg, err = bot.New(cfg.TelegramToken, bot.Deps{
			Users:    userRepo,
			Tasks:    tasks,
			Reorder:  reorder,
			Rollover: scheduler,
			Summary:  summary,
			Identity: provider,
			Location: cfg.Location,
		})
		if err != nil {
			return err
		}
	}

	notify := func(userID string, bucket model.Bucket) {
		if srv != nil {
			srv.Notify(userID, bucket)
		}
	}
	tasks.OnChange = notify
	reorder.OnChange = notify
	reorder.OnError = func(userID string, err error) {
		slog.Error("rank writes failed", "user", userID, "err", err)
		if srv != nil {
			srv.NotifyError(userID, "reorder tasks", err)
		}
		if tg != nil {
			tg.NotifyError(ctx, userID, "reorder tasks", err)
		}
	}
	rollover.OnRolledOver = func(ctx context.Context, userID string) {
		if board, ok := boards.Lookup(userID); ok {
			if err := board.Refresh(ctx, taskRepo); err != nil {
				slog.Error("reload after rollover", "user", userID, "err", err)
				boards.Drop(userID)
			}
		}
		if hub != nil {
			hub.Broadcast(userID, api.Message{Type: api.MessageRollover})
		}
		notify(userID, model.BucketToday)
		notify(userID, model.BucketTomorrow)
	}

	if tg != nil && cfg.SummaryTime != "" {
		if _, err := scheduler.ScheduleDaily(cfg.SummaryTime, func() {
			jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := tg.SendDailySummaries(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daily summary", "err", err)
			}
		}); err != nil {
			return err
		}
	}

	scheduler.Start()
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if srv != nil {
		server := &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      srv.Handler(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			slog.Info("http server listening", "addr", cfg.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if tg != nil {
		if err := tg.RestoreSessions(ctx); err != nil {
			slog.Error("restore sessions", "err", err)
		}
		g.Go(func() error {
			return tg.Start(gctx)
		})
	}

	slog.Info("today planner started", "http", srv != nil, "telegram", tg != nil)
	err = g.Wait()
	slog.Info("shutdown complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
