package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cutekitek/rankode-judge/internal/checker"
	"github.com/cutekitek/rankode-judge/internal/config"
	"github.com/cutekitek/rankode-judge/internal/executor"
	"github.com/cutekitek/rankode-judge/internal/files"
	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/languages"
	"github.com/cutekitek/rankode-judge/internal/lock"
	"github.com/cutekitek/rankode-judge/internal/metrics"
	"github.com/cutekitek/rankode-judge/internal/rabbitmq"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/repository/postgres"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/internal/runner/docker"
	"github.com/cutekitek/rankode-judge/internal/runner/isolate"
	"github.com/cutekitek/rankode-judge/internal/runner/sandbox"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func panicErr(err error) {
	if err != nil {
		panic(err)
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "info":
		slog.SetLogLoggerLevel(slog.LevelInfo)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	default:
		slog.SetLogLoggerLevel(slog.LevelWarn)
	}
}

func newRunner(ctx context.Context, cfg *config.Config) (runner.Runner, func(), error) {
	switch cfg.SandboxBackend {
	case "docker":
		r, err := docker.NewDockerRunner(docker.DockerRunnerConfig{
			CpuCores:    cfg.SandboxPoolSize,
			TasksPerCpu: 1,
			PullImages:  cfg.PullImages,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := r.Ping(ctx); err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	case "sandbox":
		r := sandbox.NewSandboxRunner(sandbox.SandboxRunnerConfig{ContainersPoolSize: cfg.SandboxPoolSize})
		if err := r.Init(); err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case "isolate":
		r := isolate.NewIsolateRunner(isolate.IsolateRunnerConfig{MaxBoxCount: cfg.SandboxPoolSize, Binary: cfg.IsolateBinary})
		if err := r.Check(); err != nil {
			return nil, nil, err
		}
		return r, func() {}, nil
	}
	return nil, nil, errors.Errorf("unknown sandbox backend %q", cfg.SandboxBackend)
}

func loadLanguages(ctx context.Context, cfg *config.Config, store *postgres.Store) (*languages.Registry, error) {
	var (
		langs []models.Language
		err   error
	)
	switch cfg.LanguagesSource {
	case "db":
		langs, err = store.ListLanguages(ctx)
	case "dir":
		langs, err = languages.LoadDir(cfg.LanguagesPath)
	default:
		err = errors.Errorf("unknown languages source %q", cfg.LanguagesSource)
	}
	if err != nil {
		return nil, err
	}
	return languages.NewRegistry(langs)
}

func main() {
	cfg, err := config.NewConfig()
	panicErr(err)
	setLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Connect(ctx, cfg.PostgresString)
	panicErr(err)
	defer store.Close()
	panicErr(store.Migrate(ctx))

	registry, err := loadLanguages(ctx, cfg, store)
	panicErr(err)
	slog.Info("languages loaded", "count", len(registry.Languages()))

	sandboxRunner, closeRunner, err := newRunner(ctx, cfg)
	panicErr(err)
	defer closeRunner()

	recorder := metrics.NewRecorder()
	opts := []judge.Option{judge.WithObserver(recorder)}

	if cfg.MinIOLogin != "" {
		fileStorage, err := files.NewFileStorage(files.Config{
			Url:      cfg.MinIOHost,
			Login:    cfg.MinIOLogin,
			Password: cfg.MinIOPassword,
			Bucket:   cfg.MinIOBucket,
			Secure:   cfg.MinIOSecure,
		})
		panicErr(err)
		opts = append(opts, judge.WithTestCaseResolver(files.NewTestCaseResolver(fileStorage, cfg.MaxTestDataSize, cfg.TestDataCache)))
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		panicErr(rdb.Ping(ctx).Err())
		opts = append(opts, judge.WithLocker(lock.NewRedisLocker(rdb, cfg.LockTTL)))
	}

	executors := executor.NewFactory(sandboxRunner, executor.Config{
		WorkRoot:       cfg.WorkRoot,
		CompileTimeout: cfg.CompileTimeout,
		CompileMemory:  cfg.CompileMemoryMB * 1024 * 1024,
		DefaultMemory:  cfg.DefaultMemoryMB * 1024 * 1024,
		CPUs:           cfg.SandboxCPUs,
		AllowStderr:    cfg.AllowStderr,
	})
	engine := judge.NewEngine(store, registry, executors, checker.NewComparator(cfg.CompareEpsilon), opts...)

	listener := rabbitmq.NewRabbitMQHandler(rabbitmq.RabbitMqHandlerConfig{
		Login:          cfg.RabbitMQUser,
		Password:       cfg.RabbitMQPassword,
		Host:           cfg.RabbitMQHost,
		Port:           cfg.RabbitMQPort,
		WorkersCount:   cfg.WorkersCount,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}, engine)
	panicErr(listener.Start())

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		listener.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	slog.Info("app started", "backend", cfg.SandboxBackend, "workers", cfg.WorkersCount)
	if err := g.Wait(); err != nil {
		slog.Error("app stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("app stopped")
}
