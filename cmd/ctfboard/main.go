package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ctfboard/internal/broadcast"
	monitorController "ctfboard/internal/broadcast/controller"
	"ctfboard/internal/common/cache"
	"ctfboard/internal/common/db"
	commonmw "ctfboard/internal/common/http/middleware"
	"ctfboard/internal/common/metrics"
	"ctfboard/internal/common/mq"
	"ctfboard/internal/container"
	"ctfboard/internal/game/repository"
	"ctfboard/internal/scheduler"
	scoreboardController "ctfboard/internal/scoreboard/controller"
	scoreboardService "ctfboard/internal/scoreboard/service"
	submitController "ctfboard/internal/submit/controller"
	submitService "ctfboard/internal/submit/service"
	appErr "ctfboard/pkg/errors"
	"ctfboard/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/ctfboard.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, appCfg)
	stop()
	if err != nil {
		logger.Error(context.Background(), "ctfboard stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

// app holds everything that must be started and stopped.
type app struct {
	server    *http.Server
	worker    *submitService.RecomputeWorker
	scheduler *scheduler.Scheduler
	hub       *broadcast.Hub
	relay     func(ctx context.Context) error
	closers   []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func startupFailed(err error, what string) error {
	return appErr.Wrapf(err, appErr.StartupFailed, "init %s failed", what)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// pingRuntime fails startup when the container engine is unreachable.
func pingRuntime(ctx context.Context, p pinger, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("ping container engine: %w", err)
	}
	return nil
}

func run(ctx context.Context, cfg *AppConfig) error {
	a, err := build(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return startupFailed(err, "http listener")
	}

	a.worker.Start(ctx)
	a.scheduler.Start(ctx)
	if a.relay != nil {
		if err := a.relay(ctx); err != nil {
			_ = listener.Close()
			return startupFailed(err, "broadcast relay")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "ctfboard http server started", zap.String("addr", cfg.Server.Addr))
		errCh <- a.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	a.scheduler.Stop()
	a.worker.Stop()
	a.hub.Close()
	return nil
}

func build(cfg *AppConfig) (*app, error) {
	a := &app{}
	built := false
	defer func() {
		if !built {
			a.close()
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	mysqlDB, err := db.NewMySQLWithConfig(&cfg.Database)
	if err != nil {
		return nil, startupFailed(err, "database")
	}
	a.closers = append(a.closers, mysqlDB.Close)

	redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
	if err != nil {
		return nil, startupFailed(err, "redis")
	}
	a.closers = append(a.closers, redisCache.Close)

	games := repository.NewGameRepository(mysqlDB, redisCache)
	challenges := repository.NewChallengeRepository(mysqlDB)
	participations := repository.NewParticipationRepository(mysqlDB)
	submissions := repository.NewSubmissionRepository(mysqlDB)
	instances := repository.NewInstanceRepository(mysqlDB)
	containers := repository.NewContainerRepository(mysqlDB)
	notices := repository.NewNoticeRepository(mysqlDB)
	cheats := repository.NewCheatRepository(mysqlDB)

	builder := scoreboardService.NewBuilder(games, challenges, participations, submissions, cfg.Scoreboard.TieBreak, nil)
	cacheManager, err := scoreboardService.NewCacheManager(builder, redisCache, m, cfg.Scoreboard.Cache, nil)
	if err != nil {
		return nil, startupFailed(err, "scoreboard cache")
	}
	scoreboards, err := scoreboardService.NewScoreboardService(cacheManager, scoreboardService.Config{
		TieBreak:         cfg.Scoreboard.TieBreak,
		PublicTrackLabel: cfg.Scoreboard.PublicTrackLabel,
	})
	if err != nil {
		return nil, startupFailed(err, "scoreboard service")
	}

	hubCfg := cfg.Broadcast.Hub
	hubCfg.AllowOrigin = commonmw.OriginChecker(cfg.CORS)
	a.hub = broadcast.NewHub(hubCfg)
	channel, err := a.buildChannel(cfg, redisCache)
	if err != nil {
		return nil, err
	}
	gateway, err := broadcast.NewGateway(channel, cfg.Broadcast.Policy, m)
	if err != nil {
		return nil, startupFailed(err, "broadcast gateway")
	}

	queue := submitService.NewRecomputeQueue(cfg.Recompute.Queue, m)
	a.worker, err = submitService.NewRecomputeWorker(queue, submissions, cacheManager, m, cfg.Recompute.Worker)
	if err != nil {
		return nil, startupFailed(err, "recompute worker")
	}
	submissionService, err := submitService.NewSubmitService(submitService.Config{
		Games:          games,
		Challenges:     challenges,
		Participations: participations,
		Submissions:    submissions,
		Instances:      instances,
		Cheats:         cheats,
		Queue:          queue,
		Invalidator:    cacheManager,
		Publisher:      gateway,
		Cache:          redisCache,
		Metrics:        m,
		MaxAnswerBytes: cfg.Submit.MaxAnswerBytes,
		RateLimit:      cfg.Submit.RateLimit,
		Timeouts:       cfg.Submit.Timeouts,
	})
	if err != nil {
		return nil, startupFailed(err, "submit service")
	}

	var runtime container.Runtime
	if cfg.Container.Enabled {
		docker, err := container.NewDockerRuntime()
		if err != nil {
			return nil, startupFailed(err, "docker runtime")
		}
		a.closers = append(a.closers, docker.Close)
		if err := pingRuntime(context.Background(), docker, cfg.Container.PingTimeout); err != nil {
			return nil, startupFailed(err, "docker runtime")
		}
		runtime = docker
	}
	orchestrator, err := container.NewManager(instances, containers, runtime, nil)
	if err != nil {
		return nil, startupFailed(err, "container manager")
	}

	a.scheduler, err = scheduler.New(scheduler.Deps{
		Games:        games,
		Challenges:   challenges,
		Notices:      notices,
		Orchestrator: orchestrator,
		Scoreboards:  cacheManager,
		Publisher:    gateway,
		Metrics:      m,
	}, cfg.Scheduler)
	if err != nil {
		return nil, startupFailed(err, "scheduler")
	}

	a.server = buildHTTPServer(cfg, m, submissionService, scoreboards, a.hub)
	built = true
	return a, nil
}

func (a *app) buildChannel(cfg *AppConfig, redisCache *cache.RedisCache) (broadcast.Channel, error) {
	switch cfg.Broadcast.Mode {
	case BroadcastLocal:
		return a.hub, nil
	case BroadcastKafka:
		mqClient, err := mq.NewKafkaBroker(cfg.Kafka)
		if err != nil {
			return nil, startupFailed(err, "kafka")
		}
		a.closers = append(a.closers, mqClient.Close)
		channel, err := broadcast.NewMQChannel(mqClient, cfg.Broadcast.Topic, cfg.Broadcast.EventTTL)
		if err != nil {
			return nil, startupFailed(err, "kafka broadcast channel")
		}
		relay := broadcast.NewMQRelay(mqClient, cfg.Broadcast.Topic, cfg.Broadcast.EventTTL, a.hub)
		a.relay = func(ctx context.Context) error {
			if err := relay.Subscribe(ctx); err != nil {
				return err
			}
			a.closers = append(a.closers, mqClient.Stop)
			return mqClient.Start()
		}
		return channel, nil
	default:
		relay := broadcast.NewRedisRelay(redisCache, cfg.Broadcast.RedisPrefix, a.hub)
		a.relay = func(ctx context.Context) error {
			go func() {
				if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error(ctx, "redis monitor relay stopped", zap.Error(err))
				}
			}()
			return nil
		}
		return broadcast.NewRedisChannel(redisCache, cfg.Broadcast.RedisPrefix), nil
	}
}

func buildHTTPServer(
	cfg *AppConfig,
	m *metrics.Metrics,
	submissions *submitService.SubmitService,
	scoreboards *scoreboardService.ScoreboardService,
	hub *broadcast.Hub,
) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	api := router.Group("/api/v1")
	submitController.NewSubmitController(submissions).Register(api)
	scoreboardController.NewScoreboardController(scoreboards).Register(api)
	monitorController.NewMonitorController(hub).Register(api)

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
