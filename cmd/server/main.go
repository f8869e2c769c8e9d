package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/api"
	"github.com/openvidu/openvidu-meet/internal/bus"
	"github.com/openvidu/openvidu-meet/internal/config"
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/locks"
	"github.com/openvidu/openvidu-meet/internal/logging"
	"github.com/openvidu/openvidu-meet/internal/media"
	"github.com/openvidu/openvidu-meet/internal/members"
	"github.com/openvidu/openvidu-meet/internal/metrics"
	"github.com/openvidu/openvidu-meet/internal/recordings"
	"github.com/openvidu/openvidu-meet/internal/rooms"
	"github.com/openvidu/openvidu-meet/internal/scheduler"
	"github.com/openvidu/openvidu-meet/internal/tokens"
	"github.com/openvidu/openvidu-meet/internal/users"
	"github.com/openvidu/openvidu-meet/internal/webhooks"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.DevMode)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	var natsConn *nats.Conn
	if !cfg.DevMode {
		conn, err := nats.Connect(cfg.NATS.URL,
			nats.Name("openvidu-meet-"+cfg.ReplicaID),
			nats.MaxReconnects(-1))
		if err != nil {
			return err
		}
		defer conn.Close()
		natsConn = conn
	}

	objects, err := data.NewS3Store(ctx, cfg.S3)
	if err != nil {
		return err
	}

	lockMgr := locks.NewManager(rdb, cfg.ReplicaID, logger)
	eventBus := bus.New(natsConn, cfg.NATS.SubjectPrefix, cfg.ReplicaID, logger)
	if err := eventBus.Start(); err != nil {
		return err
	}
	defer eventBus.Close()

	stores := &data.Stores{
		Objects: objects,
		Cache:   data.NewKV(rdb, 0, logger),
		Locks:   lockMgr,
		Logger:  logger,
	}

	seeder := &data.Initializer{
		St:            stores,
		Bus:           eventBus,
		AdminUser:     cfg.Auth.InitialAdminUser,
		AdminPassword: cfg.Auth.InitialAdminPassword,
		Logger:        logger,
	}
	if err := seeder.Initialize(ctx); err != nil {
		return err
	}

	adapter := media.NewLiveKit(cfg.LiveKit, logger)
	tokenMgr := tokens.NewManager(cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, cfg.Auth.MemberTokenTTL,
		data.RoomModel{St: stores}, data.MemberModel{St: stores})

	collector := metrics.NewCollector()
	roomSvc := rooms.NewService(stores, adapter, eventBus, lockMgr, cfg.Rooms, cfg.Server.BaseURL, logger)
	recSvc := recordings.NewService(stores, adapter, eventBus, lockMgr, cfg.Recordings, cfg.S3, logger)
	memberSvc := members.NewService(stores, adapter, logger)
	userSvc := users.NewService(stores, tokenMgr, logger)

	sink, err := webhooks.NewSink(roomSvc, recSvc, lockMgr, cfg.LiveKit, cfg.Webhooks, collector, logger)
	if err != nil {
		return err
	}

	tasks := scheduler.NewRegistry(lockMgr, logger)
	defer tasks.Shutdown()
	if err := tasks.RegisterCron(rooms.ExpirationGCTask, cfg.Rooms.ExpirationGCCron, 45*time.Second, func(ctx context.Context) {
		collector.GCSweep(rooms.ExpirationGCTask)
		roomSvc.RunExpirationGC(ctx)
	}); err != nil {
		return err
	}
	if err := tasks.RegisterCron(rooms.StatusGCTask, cfg.Rooms.StatusGCCron, 45*time.Second, func(ctx context.Context) {
		collector.GCSweep(rooms.StatusGCTask)
		roomSvc.RunStatusGC(ctx)
	}); err != nil {
		return err
	}
	tasks.RegisterInterval(recordings.OrphanGCTask, cfg.Recordings.OrphanGCInterval, func(ctx context.Context) {
		collector.GCSweep(recordings.OrphanGCTask)
		recSvc.RunOrphanGC(ctx)
	})

	router := api.NewRouter(api.Deps{
		Config:     cfg,
		Rooms:      roomSvc,
		Recordings: recSvc,
		Members:    memberSvc,
		Users:      userSvc,
		Tokens:     tokenMgr,
		Webhooks:   sink,
		Metrics:    collector,
		Logger:     logger,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.Addr()),
			zap.String("replica", cfg.ReplicaID))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
