package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"today-planner/internal/api"
	"today-planner/internal/config"
	"today-planner/internal/logger"
	"today-planner/internal/marker"
	"today-planner/internal/repository"
	"today-planner/internal/service"
)

var (
	version = "dev"
	commit  = "none"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "todayplanner",
		Short:         "Today/Tomorrow task planner with a midnight rollover.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	addServe(cmd)
	addRollover(cmd)
	addToken(cmd)
	addVersion(cmd)
	return cmd
}

func addVersion(topLevel *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version.",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "todayplanner %s (%s)\n", version, commit)
		},
	}
	topLevel.AddCommand(cmd)
}

func addRollover(topLevel *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "rollover <user-id>",
		Short: "Run the tomorrow-to-today rollover once for a user.",
		Example: `
todayplanner rollover 3f1c9a52-8d0e-4e4b-9a57-2f1c0e8f5d11
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := setup()
			if err != nil {
				return err
			}
			defer closeLog.Close()

			db, err := repository.NewDB(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db: %w", err)
			}
			defer closeDB(db)

			markers, closeMarkers, err := openMarkers(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeMarkers.Close()

			rollover := service.NewRolloverService(repository.NewTaskRepository(db), markers, cfg.Location, cfg.WriteConcurrency)
			res, err := rollover.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(api.RolloverResponse{Date: res.Date, Moved: res.Moved, AlreadyDone: res.AlreadyDone})
		},
	}
	topLevel.AddCommand(cmd)
}

func addToken(topLevel *cobra.Command) {
	ttl := 24 * time.Hour
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API token for a user.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			token, err := api.IssueToken([]byte(cfg.JWTSecret), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", ttl, "Token lifetime. Zero issues a token without expiry.")
	topLevel.AddCommand(cmd)
}

func setup() (config.Config, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config: %w", err)
	}
	closer, err := logger.Init(cfg.Log)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openMarkers(ctx context.Context, cfg config.Config) (marker.Store, io.Closer, error) {
	switch cfg.MarkerBackend {
	case config.MarkerRedis:
		store, err := marker.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("markers: %w", err)
		}
		return store, store, nil
	case config.MarkerMemory:
		return marker.NewMemoryStore(), nopCloser{}, nil
	default:
		return marker.NewDiskStore(cfg.MarkerDir), nopCloser{}, nil
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
