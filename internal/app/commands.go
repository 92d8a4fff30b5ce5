package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"social_backend/database"
	"social_backend/internal/auth"
	"social_backend/internal/config"
	"social_backend/internal/logger"
	"social_backend/pkg/apperrors"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Run executes the command line and exits non-zero on failure.
func Run() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the CLI: serve (default), migrate and token.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "social_backend",
		Short:         "Real-time chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := os.Setenv("CONFIG_PATH", configPath); err != nil {
					return err
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (overrides CONFIG_PATH)")

	serve := newServeCommand()
	root.AddCommand(serve, newMigrateCommand(), newTokenCommand())
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

func newServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the realtime gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap()
			if err != nil {
				return err
			}

			gormDB, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(gormDB)

			if migrate {
				if err := database.AutoMigrate(gormDB); err != nil {
					logger.Error("Migration failed", "error", err)
					return err
				}
			}

			application, err := New(cfg, gormDB)
			if err != nil {
				logger.Error("Failed to initialize application", "error", err)
				return err
			}
			defer application.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := application.Serve(ctx); err != nil {
				logger.Error("Server stopped with error", "error", err)
				return err
			}
			logger.Info("Server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run AutoMigrate before serving")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap()
			if err != nil {
				return err
			}
			gormDB, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(gormDB)

			if err := database.AutoMigrate(gormDB); err != nil {
				logger.Error("Migration failed", "error", err)
				return err
			}
			return nil
		},
	}
}

// newTokenCommand mints an access token for local testing. Accounts live
// in an external service; this only signs the user id.
func newTokenCommand() *cobra.Command {
	var (
		userID uint
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token for a user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return fmt.Errorf("--user is required")
			}
			cfg, err := bootstrap()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.JWT.TTL) * time.Minute
			}
			token, err := auth.NewManager(cfg.JWT.Secret, ttl).Issue(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().UintVarP(&userID, "user", "u", 0, "user id to put in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default jwt.ttl)")
	return cmd
}

// bootstrap loads configuration and sets up logging.
func bootstrap() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return nil, err
	}

	logger.InitWithFile(cfg.Server.Env, cfg.Log.Level, logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	logger.Info("Logger initialized", "env", cfg.Server.Env)

	apperrors.DebugErrors = cfg.Server.Env == "development"
	return cfg, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	logger.Info("Connecting to database...", "driver", cfg.Database.Driver)
	gormDB, err := database.Open(cfg)
	if err != nil {
		logger.Error("Database unavailable", "error", err)
		return nil, err
	}
	logger.Info("Database connected")
	return gormDB, nil
}

func closeDatabase(gormDB *gorm.DB) {
	sqlDB, err := gormDB.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("Failed to close database", "error", err)
	}
}
