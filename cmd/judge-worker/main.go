package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klausjudge/internal/common/cache"
	"klausjudge/internal/common/db"
	"klausjudge/internal/common/mq"
	"klausjudge/internal/common/storage"
	"klausjudge/internal/judge/controller"
	"klausjudge/internal/judge/queue"
	"klausjudge/internal/judge/repository"
	"klausjudge/internal/judge/sandbox/engine"
	"klausjudge/internal/judge/sandbox/observer"
	"klausjudge/internal/judge/sandbox/profile"
	"klausjudge/internal/judge/sandbox/runner"
	"klausjudge/internal/judge/service"
	"klausjudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/judge_worker.yaml"

func main() {
	app := &cli.Command{
		Name:  "judge-worker",
		Usage: "claim submissions from the judge queue and grade them in containers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "path to a .yaml or .toml config file",
				Sources: cli.EnvVars("JUDGE_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the worker loops and the status server",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "concurrency", Usage: "override worker.concurrency"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := configFromCommand(cmd)
					if err != nil {
						return err
					}
					if cmd.IsSet("concurrency") {
						cfg.Worker.Concurrency = int(cmd.Int("concurrency"))
						if err := cfg.validate(); err != nil {
							return err
						}
					}
					return runWorker(ctx, cfg)
				},
			},
			{
				Name:      "enqueue",
				Usage:     "push submission ids onto the judge queue",
				ArgsUsage: "<submission-id>...",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() == 0 {
						return fmt.Errorf("at least one submission id is required")
					}
					cfg, err := configFromCommand(cmd)
					if err != nil {
						return err
					}
					return withQueue(ctx, cfg, func(q *queue.RedisQueue) error {
						for _, raw := range cmd.Args().Slice() {
							if _, err := uuid.Parse(raw); err != nil {
								return fmt.Errorf("invalid submission id %q: %w", raw, err)
							}
							if err := q.Push(ctx, raw); err != nil {
								return err
							}
							fmt.Fprintln(cmd.Root().Writer, raw)
						}
						return nil
					})
				},
			},
			{
				Name:  "config",
				Usage: "print the effective configuration after env overrides and defaults",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := configFromCommand(cmd)
					if err != nil {
						return err
					}
					data, err := effectiveYAML(*cfg)
					if err != nil {
						return err
					}
					_, err = cmd.Root().Writer.Write(data)
					return err
				},
			},
			{
				Name:      "result",
				Usage:     "print the archived result of a judged submission",
				ArgsUsage: "<submission-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 1 {
						return fmt.Errorf("exactly one submission id is required")
					}
					id, err := uuid.Parse(cmd.Args().First())
					if err != nil {
						return fmt.Errorf("invalid submission id %q: %w", cmd.Args().First(), err)
					}
					cfg, err := configFromCommand(cmd)
					if err != nil {
						return err
					}
					if !cfg.Archive.Enabled {
						return fmt.Errorf("archive is disabled")
					}
					store, err := storage.NewMinIOStorage(cfg.Archive.MinIO)
					if err != nil {
						return err
					}
					res, err := repository.NewObjectResultArchive(store, cfg.Archive.Bucket, cfg.Archive.Prefix).Load(ctx, id)
					if err != nil {
						return err
					}
					enc := json.NewEncoder(cmd.Root().Writer)
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				},
			},
			{
				Name:  "depth",
				Usage: "print the number of pending jobs",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := configFromCommand(cmd)
					if err != nil {
						return err
					}
					return withQueue(ctx, cfg, func(q *queue.RedisQueue) error {
						depth, err := q.QueueDepth(ctx)
						if err != nil {
							return err
						}
						fmt.Fprintln(cmd.Root().Writer, depth)
						return nil
					})
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "judge-worker: %v\n", err)
		os.Exit(1)
	}
}

// configFromCommand loads config. A missing default file falls back to env only.
func configFromCommand(cmd *cli.Command) (*AppConfig, error) {
	path := cmd.String("config")
	if !cmd.IsSet("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return loadAppConfig(path)
}

func withQueue(ctx context.Context, cfg *AppConfig, fn func(q *queue.RedisQueue) error) error {
	redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		_ = redisCache.Close()
	}()
	q, err := queue.NewRedisQueue(redisCache, cfg.Redis.QueueName, false)
	if err != nil {
		return err
	}
	return fn(q)
}

func runWorker(parent context.Context, cfg *AppConfig) error {
	if err := cfg.requireDatabase(); err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("init logger failed: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := db.NewPostgreSQLWithConfig(&cfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return err
	}
	defer func() {
		_ = pg.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return err
	}
	defer func() {
		_ = redisCache.Close()
	}()

	jobQueue, err := queue.NewRedisQueue(redisCache, cfg.Redis.QueueName, cfg.Worker.Reclaim.Enabled)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observer.NewPrometheusRecorder(registry)
	if err != nil {
		return err
	}

	langs, err := profile.NewRepository(profile.DefaultLanguages(), cfg.Execution.Languages)
	if err != nil {
		logger.Error(ctx, "load language profiles failed", zap.Error(err))
		return err
	}
	if err := os.MkdirAll(cfg.Execution.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir failed: %w", err)
	}

	events, err := buildEventPublisher(cfg)
	if err != nil {
		logger.Error(ctx, "init event producer failed", zap.Error(err))
		return err
	}
	if events.producer != nil {
		defer func() {
			_ = events.producer.Close()
		}()
	}

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "init result archive failed", zap.Error(err))
		return err
	}

	persistence := repository.NewPostgresRepository(pg)
	progress := repository.NewProgressRepository(redisCache, time.Duration(cfg.Judge.ProgressTTLSeconds)*time.Second)
	eng := engine.NewDockerEngine(cfg.engineConfig())

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "judge"
	}

	var leaser queue.Leaser
	if cfg.Worker.Reclaim.Enabled {
		leaser = jobQueue
	}

	g, gctx := errgroup.WithContext(ctx)
	loops := make([]controller.StatsSource, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", hostname, i)
		orch, err := service.NewOrchestrator(service.Config{
			Persistence:        persistence,
			Runner:             runner.NewDockerRunnerWithObserver(eng, langs, cfg.runnerConfig(), metrics),
			Leaser:             leaser,
			Events:             events.publisher,
			Archive:            archive,
			Progress:           progress,
			Metrics:            metrics,
			WorkerID:           workerID,
			DefaultTimeLimitMs: cfg.defaultTimeLimitMs(),
			DefaultMemoryMB:    cfg.Execution.DefaultMemoryLimitMB,
			RecordTestResults:  cfg.Judge.RecordTestResults,
		})
		if err != nil {
			return err
		}
		loop, err := service.NewLoop(cfg.loopConfig(workerID), jobQueue, orch.AsJobJudge(), service.RealClock{}, metrics)
		if err != nil {
			return err
		}
		loops = append(loops, loop)
		g.Go(func() error {
			return loop.Run(gctx)
		})
	}

	if cfg.Worker.Reclaim.Enabled {
		reclaimer := queue.NewReclaimer(jobQueue, cfg.reclaimConfig())
		g.Go(func() error {
			return reclaimer.Run(gctx)
		})
	}

	if cfg.Server.Addr != "" && !cfg.Server.Disable {
		gin.SetMode(gin.ReleaseMode)
		checks := healthChecks(pg, redisCache, cfg.Events.Driver, events.producer)
		status := controller.NewStatusController(checks, loops, jobQueue, progress).WithPool(pg)
		httpServer := buildHTTPServer(cfg.Server, buildRouter(status, registry))
		g.Go(func() error {
			logger.Info(gctx, "status server started", zap.String("addr", cfg.Server.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server stopped: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), defaultShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info(ctx, "judge worker started",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("queue", jobQueue.Name()),
		zap.Strings("languages", langs.Tags()),
		zap.String("events", cfg.Events.Driver),
		zap.Bool("archive", cfg.Archive.Enabled),
		zap.Bool("reclaim", cfg.Worker.Reclaim.Enabled))

	err = g.Wait()
	if err != nil {
		logger.Error(context.Background(), "judge worker stopped with error", zap.Error(err))
		return err
	}
	logger.Info(context.Background(), "judge worker stopped")
	return nil
}

type eventWiring struct {
	producer  mq.Producer
	publisher repository.EventPublisher
}

func buildEventPublisher(cfg *AppConfig) (eventWiring, error) {
	var (
		producer mq.Producer
		err      error
	)
	switch cfg.Events.Driver {
	case "":
		return eventWiring{}, nil
	case "kafka":
		producer, err = mq.NewKafkaProducer(cfg.Events.Kafka)
	case "nats":
		producer, err = mq.NewNATSProducer(cfg.Events.NATS)
	default:
		return eventWiring{}, fmt.Errorf("unsupported events driver %q", cfg.Events.Driver)
	}
	if err != nil {
		return eventWiring{}, err
	}
	return eventWiring{
		producer:  producer,
		publisher: repository.NewMQEventPublisher(producer, cfg.Events.Topic),
	}, nil
}

func buildArchive(ctx context.Context, cfg *AppConfig) (repository.ResultArchive, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	store, err := storage.NewMinIOStorage(cfg.Archive.MinIO)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx, cfg.Archive.Bucket); err != nil {
		return nil, err
	}
	return repository.NewObjectResultArchive(store, cfg.Archive.Bucket, cfg.Archive.Prefix), nil
}
