package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"MissionChat/global/config"
	"MissionChat/logger"
	mid "MissionChat/middleware"
	"MissionChat/module/chat/handler"
	"MissionChat/module/chat/service"
	"MissionChat/service/chat"
	redis "MissionChat/service/storage/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		logger.Error("missionchat exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1) 配置 + 日志级别 + id 生成
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)
	config.ConfigIds(cfg)
	node := cfg.NodeName()

	// 2) 存储
	stores, err := config.ConfigStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stores.Close(cctx); err != nil {
			logger.Warn("close stores", zap.Error(err))
		}
	}()

	presence, profiles, err := config.ConfigPresence(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = redis.CloseRedis() }()

	// 3) 实时广播：hub + 可选的 NATS 中继
	hub := chat.NewHub(chat.HubConfig{Workers: cfg.FanoutWorkers})
	defer hub.Close()

	bus, err := config.ConfigNats(cfg)
	if err != nil {
		return err
	}
	if bus != nil {
		defer func() { _ = bus.Close() }()
		if err := chat.NewNatsRelay(bus, node, "").WithMissionStream(cfg.NatsMissionStream).Start(hub); err != nil {
			return err
		}
	}

	notifiers := service.Notifiers{chat.NewHubNotifier(hub)}
	events, err := config.ConfigKafka(cfg)
	if err != nil {
		return err
	}
	if events != nil {
		defer events.Close()
		notifiers = append(notifiers, events)
	}

	// 4) 业务服务
	dir := service.NewDirectory(stores.Conversations)
	msgs := service.NewMessageLog(stores.Conversations, stores.Messages, notifiers).WithMaxPageSize(cfg.MaxPageSize)

	// 5) HTTP + WebSocket
	auth := config.ConfigMiddleware(cfg)
	r := gin.New()
	mid.Manager().Apply(r)

	conns := chat.NewConnManager(chat.ManagerConf{TTL: cfg.PresenceTTL, MaxPerUser: cfg.MaxConnsPerUser})
	handler.New(handler.Options{
		Directory:         dir,
		Messages:          msgs,
		Presence:          presence,
		Profiles:          profiles,
		Missions:          hub,
		Local:             conns,
		DefaultPageSize:   cfg.DefaultPageSize,
		SendRatePerSecond: cfg.SendRatePerSecond,
	}).Register(r)

	disp := chat.NewDispatcher()
	chat.NewEvents(hub, dir).Register(disp)
	ws := chat.NewServer(chat.ServerConfig{
		Node:        node,
		Auth:        auth,
		Origins:     cfg.AllowOrigins,
		SendQueue:   cfg.SendQueueSize,
		PresenceTTL: cfg.PresenceTTL,
	}, hub, conns, disp, presence)
	r.GET("/ws", ws.HandleWS)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("missionchat listening", zap.String("addr", srv.Addr), zap.String("node", node),
			zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	// 6) 优雅退出：先停 HTTP，再断开 ws
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := ws.Shutdown(sctx); err != nil {
		logger.Warn("ws shutdown", zap.Error(err))
	}
	return nil
}
