package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"nexoj/internal/common/cache"
	"nexoj/internal/common/db"
	"nexoj/internal/common/mq"
	contesthandler "nexoj/internal/contest/handler"
	contestrepo "nexoj/internal/contest/repository"
	contestservice "nexoj/internal/contest/service"
	"nexoj/internal/dispatch"
	judgehandler "nexoj/internal/judge/handler"
	judgerepo "nexoj/internal/judge/repository"
	judgeservice "nexoj/internal/judge/service"
	"nexoj/pkg/utils/logger"

	"github.com/zeromicro/go-zero/rest"
	"go.uber.org/zap"
)

var configFile = flag.String("f", "configs/contest-core.yaml", "config file path")

func main() {
	flag.Parse()

	cfg, err := LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Fatal(context.Background(), "contest-core exited", zap.Error(err))
	}
}

func run(cfg *Config) error {
	ctx := context.Background()

	mysql, err := db.NewMySQL(&cfg.MySQL)
	if err != nil {
		return fmt.Errorf("connect mysql: %w", err)
	}
	defer mysql.Close()

	redisCache, err := cache.NewRedisCache(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisCache.Close()

	var queue mq.MessageQueue
	var publisher judgerepo.VerdictPublisher = judgerepo.NoopVerdictPublisher{}
	if cfg.Kafka.Enabled {
		kafkaQueue, err := mq.NewKafkaQueue(cfg.Kafka.KafkaConfig)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer kafkaQueue.Close()
		queue = kafkaQueue
		publisher = judgerepo.NewVerdictPublisher(kafkaQueue)
	}

	statusRepo := judgerepo.NewStatusRepository(redisCache, cfg.Judge.StatusTTL, cfg.Judge.EvictGrace)
	records := judgerepo.NewMySQLRecordStore(mysql.DB())

	protocol, err := judgeservice.NewProtocol(judgeservice.ProtocolConfig{
		StatusRepo: statusRepo,
		Records:    records,
		Publisher:  publisher,
	})
	if err != nil {
		return fmt.Errorf("build protocol handler: %w", err)
	}

	dispatchQueue := dispatch.NewQueue()
	hub, err := dispatch.NewHub(dispatch.HubConfig{
		Queue:       dispatchQueue,
		Token:       cfg.Judge.Token,
		Progress:    protocol,
		PollTimeout: cfg.Judge.PollTimeout,
	})
	if err != nil {
		return fmt.Errorf("build dispatch hub: %w", err)
	}
	defer hub.Close()

	judgeSvc, err := judgeservice.NewJudgeService(judgeservice.Config{
		Queue:      dispatchQueue,
		StatusRepo: statusRepo,
		Records:    records,
	})
	if err != nil {
		return fmt.Errorf("build judge service: %w", err)
	}

	contestSvc, err := contestservice.NewContestService(contestservice.ServiceConfig{
		Contests:  contestrepo.NewMySQLContestStore(mysql.DB()),
		Players:   contestrepo.NewMySQLPlayerStore(mysql.DB()),
		Ranklists: contestrepo.NewMySQLRanklistStore(mysql.DB()),
		Records:   records,
	})
	if err != nil {
		return fmt.Errorf("build contest service: %w", err)
	}

	if queue != nil {
		if err := contestSvc.StartVerdictConsumer(ctx, queue); err != nil {
			return fmt.Errorf("subscribe verdict events: %w", err)
		}
		if err := queue.Start(); err != nil {
			return fmt.Errorf("start message queue: %w", err)
		}
		defer func() { _ = queue.Stop() }()
	}

	server := rest.MustNewServer(rest.RestConf{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	defer server.Stop()

	judgehandler.RegisterStatusRoutes(server, judgeSvc)
	judgehandler.RegisterSubmitRoutes(server, judgeSvc)
	judgehandler.RegisterWorkerRoutes(server, judgehandler.NewWorkerGateway(hub))
	contesthandler.RegisterAdminRoutes(server, contestSvc)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "contest-core listening",
			zap.String("host", cfg.Server.Host), zap.Int("port", cfg.Server.Port))
		server.Start()
		errCh <- fmt.Errorf("http server stopped")
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(ctx, "shutting down", zap.String("signal", sig.String()))
		return nil
	case err := <-errCh:
		return err
	}
}
