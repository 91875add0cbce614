package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"trace-service/internal/config"
	"trace-service/internal/handlers"
	"trace-service/internal/handoff"
	"trace-service/internal/metrics"
	"trace-service/internal/repository"
	"trace-service/internal/services"
	"trace-service/internal/storage"
)

func main() {
	v := config.New()
	root := &cobra.Command{
		Use:          "trace-service",
		Short:        "GPS trace store",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	if err := v.BindPFlag("LOG_LEVEL", root.PersistentFlags().Lookup("log-level")); err != nil {
		fmt.Fprintf(os.Stderr, "error binding flags: %v\n", err)
		os.Exit(1)
	}
	root.AddCommand(serveCommand(v), recoverCommand(v))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trace HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, v)
		},
	}
	cmd.Flags().String("port", "", "Listen port")
	_ = v.BindPFlag("STORAGE_PORT", cmd.Flags().Lookup("port"))
	return cmd
}

func recoverCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Remove uploads abandoned by crashed creates and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer app.close()

			removed, err := app.recovery.Sweep(cmd.Context(), app.cfg.PendingTTL)
			if err != nil {
				return err
			}
			app.log.WithField("pending_removed", removed).Info("Recovery finished")
			return nil
		},
	}
}

// application is the wired service graph shared by the subcommands.
type application struct {
	cfg      *config.Config
	log      *logrus.Logger
	db       *gorm.DB
	service  *services.TraceService
	recovery *services.Recovery
	redis    *storage.RedisClient
}

func (a *application) close() {
	a.service.Writer.Wait()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithField("error", err).Warn("Failed to close Redis connection")
		}
	}
	closeDatabase(a.db)
}

var connectDatabase = config.ConnectDatabase

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func setup(ctx context.Context, v *viper.Viper) (app *application, err error) {
	cfg, err := config.LoadConfig(v)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	log, err := config.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	db, err := connectDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	defer func() {
		if err != nil {
			closeDatabase(db)
		}
	}()
	if err := config.MigrateDatabase(db); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	blobs, err := initBlobStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("blob store initialization failed: %w", err)
	}

	app = &application{cfg: cfg, log: log, db: db}
	var notifier handoff.Notifier = handoff.Nop{}
	if cfg.RedisHost != "" {
		app.redis, err = storage.NewRedisClient(ctx, cfg.RedisHost, cfg.RedisPort)
		if err != nil {
			return nil, err
		}
		notifier = handoff.NewRedisNotifier(app.redis, cfg.ImportQueue)
		log.WithField("queue", cfg.ImportQueue).Info("Import notifications enabled")
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	blobs = storage.NewInstrumentedStore(blobs, m)
	traceRepo := repository.NewTraceRepository(db)
	prefs := repository.NewPreferenceRepository(db)
	writer := services.NewTraceWriter(traceRepo, blobs, prefs, notifier, m, log)
	app.service = services.NewTraceService(writer, traceRepo, repository.NewUserRepository(db), prefs, blobs, m, log)
	app.recovery = services.NewRecovery(traceRepo, blobs, m, log)
	return app, nil
}

func initBlobStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (storage.BlobStore, error) {
	if cfg.BlobBackend == config.BlobFilesystem {
		log.WithField("dir", cfg.BlobDir).Info("Using filesystem blob store")
		return storage.NewFilesystemStore(cfg.BlobDir)
	}
	client, err := storage.NewMinioClient(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"endpoint": cfg.MinioEndpoint, "bucket": cfg.MinioBucket}).Info("Using MinIO blob store")
	return storage.NewMinioStore(client, cfg.MinioBucket), nil
}

func serve(ctx context.Context, v *viper.Viper) error {
	app, err := setup(ctx, v)
	if err != nil {
		return err
	}
	defer app.close()

	go app.recovery.Run(ctx, app.cfg.SweepInterval, app.cfg.PendingTTL)

	server := fiber.New(fiber.Config{DisableStartupMessage: true})

	// Register Prometheus metrics endpoint
	server.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	handlers.RegisterRoutes(server, handlers.NewTraceHandler(app.service, app.log))

	for _, r := range server.GetRoutes() {
		app.log.Debugf("Registered route %s %s", r.Method, r.Path)
	}

	go func() {
		<-ctx.Done()
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			app.log.WithField("error", err).Warn("Server shutdown failed")
		}
	}()

	app.log.WithField("port", app.cfg.AppPort).Info("Server listening")
	return server.Listen(":" + app.cfg.AppPort)
}
