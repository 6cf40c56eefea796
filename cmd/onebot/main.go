package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lisuiheng/onebot-go/config"
	"github.com/lisuiheng/onebot-go/core"
	"github.com/lisuiheng/onebot-go/logger"
	"github.com/lisuiheng/onebot-go/pkg/interfaces"
	"github.com/lisuiheng/onebot-go/protocols/websocket"
)

func main() {
	// 定义命令行参数
	configPath := flag.String("c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/onebot/config.yaml)")
	debug := flag.Bool("debug", false, "Enable debug logging to stdout")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	if *debug {
		cfg.Logging = logger.Config{Level: "debug", Outputs: []string{"stdout"}}
	}
	if err := logger.Init(cfg.Logging); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logger.Info("Shutting down onebot service")

	conn, err := newConnection(cfg)
	if err != nil {
		logger.Error("Failed to create connection", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Error("Failed to close connection", "error", err)
		}
	}()

	if _, err := conn.RegisterHandler(logEvent); err != nil {
		logger.Error("Failed to register event handler", "error", err)
		os.Exit(1)
	}

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr)
		defer stop()
	}

	// 设置信号处理
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting onebot service", "mode", cfg.Mode, "addr", cfg.Connection.Addr())
	if err := conn.Start(); err != nil {
		logger.Error("Failed to start connection", "error", err)
		return
	}

	<-ctx.Done()
	logger.Info("Received signal, shutting down")
}

func newConnection(cfg config.Config) (interfaces.Connection, error) {
	log := logger.Component(cfg.Mode)
	correlator := core.NewCorrelator(log)
	bus := core.NewEventBus(log)

	switch cfg.Mode {
	case config.ModeReverse:
		return websocket.NewServer(cfg.Connection, core.JSONCodec{}, correlator, bus, log)
	default:
		return websocket.NewClient(cfg.Connection, core.JSONCodec{}, correlator, bus, log)
	}
}

func logEvent(_ context.Context, event json.RawMessage) (json.RawMessage, error) {
	var head struct {
		PostType      string `json:"post_type"`
		MetaEventType string `json:"meta_event_type"`
	}
	if err := json.Unmarshal(event, &head); err != nil {
		return nil, err
	}
	if head.MetaEventType == "heartbeat" {
		logger.Debug("Heartbeat received")
		return nil, nil
	}
	logger.Info("Event received", "post_type", head.PostType, "event", string(event))
	return nil, nil
}

func serveMetrics(addr string) func() {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
