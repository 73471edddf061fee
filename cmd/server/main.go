package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mdbatch/internal/api"
	"mdbatch/internal/batch"
	"mdbatch/internal/config"
	"mdbatch/internal/convert"
	"mdbatch/internal/events"
	fileutil "mdbatch/internal/file"
	"mdbatch/internal/history"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "config.yml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	store, err := history.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history store")
	}
	defer store.Close()

	bus := events.NewBus()
	recorder := events.NewRecorder(200)
	bus.SubscribeAll(recorder.Record)

	proc, err := buildProcessor(cfg, bus, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build batch processor")
	}

	filter, err := batch.NewFileFilter(batch.FilterOptions{
		Extensions: cfg.AllowedExtensions,
		MaxSize:    cfg.MaxFileSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build admission filter")
	}

	router := setupRouter()
	api.NewAPI(proc, store, recorder, filter).RegisterRoutes(router)

	proc.Start()

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()
	gracefulShutdown(srv, proc, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.RequestLogger())
	return r
}

func buildProcessor(cfg config.Config, bus *events.Bus, store *history.Store) (*batch.Processor, error) {
	opts := batch.Options{
		Workers:    cfg.Workers,
		Mode:       batch.Mode(cfg.Mode),
		Events:     bus,
		OnFinished: recordFinished(store),
	}
	if opts.Mode == batch.ModeSubprocess {
		opts.Command = cfg.ConvertCommand
	} else {
		dispatcher := convert.NewDispatcher()
		opts.Convert = func(ctx context.Context, inputPath, _ string) (string, error) {
			return dispatcher.Convert(ctx, inputPath)
		}
	}
	return batch.New(opts)
}

func recordFinished(store *history.Store) func(batch.Task) {
	return func(t batch.Task) {
		finished := t.CompletedAt
		if finished.IsZero() {
			finished = time.Now()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := store.Append(ctx, history.Record{
			TaskID:       t.ID,
			InputPath:    t.InputPath,
			OutputPath:   t.OutputPath,
			Priority:     t.Priority.String(),
			Status:       string(t.Status),
			ErrorMessage: t.ErrorMessage,
			RetryCount:   t.RetryCount,
			CreatedAt:    t.CreatedAt,
			FinishedAt:   finished,
		})
		if err != nil {
			log.Warn().Str("task_id", t.ID).Err(err).Msg("persist task history failed")
		}
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, proc *batch.Processor, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	proc.Stop()
	log.Info().Msg("server exited cleanly")
}
