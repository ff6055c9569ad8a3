package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/orionwa/dispatch/internal/api"
	"github.com/orionwa/dispatch/internal/cache"
	"github.com/orionwa/dispatch/internal/client"
	"github.com/orionwa/dispatch/internal/config"
	"github.com/orionwa/dispatch/internal/dispatch"
	"github.com/orionwa/dispatch/internal/logging"
	"github.com/orionwa/dispatch/internal/repo"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	// The recorder feeds the status surface's last-log line, so only the
	// dispatcher logs through it; everything else goes straight to stdout.
	base := slog.NewTextHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(base))

	recorder := logging.NewRecorder(base)
	log := slog.New(recorder)

	if err := run(cfg, log, recorder); err != nil {
		log.Error("fatal", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, recorder *logging.Recorder) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}
	log.Info("database connected")

	messages := repo.NewPostgresMessageRepo(db)

	gateway := client.NewWhatsAppClient(cfg.Gateway.URL, cfg.Gateway.Token)
	go gateway.WatchReadiness(ctx, cfg.Gateway.ReadyPollEvery)

	disp, err := dispatch.New(dispatch.Config{
		BatchSize:     cfg.Dispatch.BatchSize,
		BaseInterval:  cfg.Dispatch.BaseInterval,
		SlowInterval:  cfg.Dispatch.SlowInterval,
		HighWater:     cfg.Dispatch.HighWater,
		SendTimeout:   cfg.Dispatch.SendTimeout,
		MessageDelay:  cfg.Dispatch.MessageDelay,
		CountryPrefix: cfg.Dispatch.CountryPrefix,
	}, messages, gateway, log)
	if err != nil {
		return err
	}
	disp.WithLastLog(recorder.Last)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		disp.WithSentCache(cache.NewRedisCache(rdb, cfg.Redis.TTL))
		log.Info("sent-message cache enabled", slog.String("addr", cfg.Redis.Address))
	}

	disp.Start()

	handler := api.NewHandler(disp, messages, recorder, cfg.Server.APIToken)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(handler)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		disp.Shutdown()
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	disp.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("dur", time.Since(start)),
		)
	})
}
