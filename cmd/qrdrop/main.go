package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"qrdrop/internal/config"
	"qrdrop/internal/longpoll"
	"qrdrop/internal/observability/logging"
	"qrdrop/internal/observability/metrics"
	"qrdrop/internal/service"
	"qrdrop/internal/session"
	"qrdrop/internal/storage"
	"qrdrop/internal/store"
	transport "qrdrop/internal/transport/http"
	"qrdrop/internal/web"
	"qrdrop/pkg/db"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "qrdrop",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})

	slog.SetDefault(logger)
	metrics.MustRegister("qrdrop")

	logger.Info("starting service", "db_driver", cfg.DBDriver)

	gdb, err := db.OpenGorm(db.Config{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL, LogSQL: cfg.DBLogSQL})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	st := store.New(gdb)
	if err := st.AutoMigrate(context.Background()); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	disk, err := storage.NewDisk(cfg.UploadDir)
	if err != nil {
		logger.Error("upload dir", "error", err)
		os.Exit(1)
	}
	logger.Info("staging files", "upload_dir", disk.Root())

	signer, err := session.NewSigner(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		logger.Error("session signer", "error", err)
		os.Exit(1)
	}
	if cfg.SessionSecret == "" {
		logger.Warn("SESSION_SECRET not set, sessions will not survive a restart")
	}

	renderer, err := web.NewRenderer()
	if err != nil {
		logger.Error("templates", "error", err)
		os.Exit(1)
	}

	poll := longpoll.Config{Interval: cfg.PollInterval, MaxAttempts: cfg.PollMaxAttempts}
	svc := service.New(st, disk, poll)
	handler := transport.NewRouter(svc, transport.Options{
		Sessions:       session.NewManager(signer, cfg.CookieSecure),
		Renderer:       renderer,
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
		BindRateLimit:  cfg.BindRateLimit,
	})

	// No WriteTimeout: long polls and large downloads would trip it.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("qrdrop listening", "addr", cfg.Addr, "poll_ceiling", poll.Ceiling())
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
