package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"uk.co.dudmesh.chatroom/internal/boot"
	"uk.co.dudmesh.chatroom/internal/broadcast"
	"uk.co.dudmesh.chatroom/internal/chat"
	"uk.co.dudmesh.chatroom/internal/handlers"
	"uk.co.dudmesh.chatroom/internal/history"
	"uk.co.dudmesh.chatroom/internal/messagestore"
	"uk.co.dudmesh.chatroom/internal/metrics"
	"uk.co.dudmesh.chatroom/internal/presence"
	"uk.co.dudmesh.chatroom/internal/render"
)

func logLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

func newRenderer(config *boot.Config) *render.Template {
	if config.IsDevelopment() {
		t, err := render.NewFromDir(config.Server.Views)
		if err == nil {
			if err := t.Watch(); err != nil {
				log.Warnf("views will not reload: %+v", err)
			}
			return t
		}
		log.Warnf("falling back to embedded views: %+v", err)
	}

	t, err := render.New()
	if err != nil {
		log.Fatalf("views: %+v", err)
	}
	return t
}

func main() {
	config, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}
	log.SetLevel(logLevel(config.LogLevel))

	store, err := messagestore.New(config.DatabasePath(), config.Location())
	if err != nil {
		log.Fatalf("message store: %+v", err)
	}
	defer store.Close()

	renderer := newRenderer(config)
	defer renderer.Close()

	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()

	registry := presence.New(presence.WithGauge(metrics.ConnectedUsers))
	engine := broadcast.New(registry, renderer, config.Chat.SendTimeout)
	go engine.Run(engineCtx)

	paginator := history.New(store)
	room := chat.NewRoom(registry, engine, store, paginator, renderer)

	server := echo.New()
	server.HideBanner = true
	server.Use(middleware.BodyLimit("1M"))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("chatroom"))
	server.Use(middleware.Recover())

	server.Logger.SetLevel(logLevel(config.LogLevel))

	handlers.Register(server, handlers.Deps{
		Room:      room,
		Paginator: paginator,
		Renderer:  renderer,
		Origins:   config.Server.AllowedOrigins,
		ConnOptions: chat.ConnOptions{
			WriteWait:         config.Chat.WriteWait,
			PongWait:          config.Chat.PongWait,
			PingInterval:      config.Chat.PingInterval,
			MaxMessageSize:    config.Chat.MaxMessageSize,
			RateLimitBurst:    config.Chat.RateLimitBurst,
			RateLimitInterval: config.Chat.RateLimitInterval,
		},
	})

	metricsServer := echo.New()
	metricsServer.HideBanner = true
	metricsServer.GET("/metrics", echoprometheus.NewHandler())
	go func() {
		if err := metricsServer.Start(config.Server.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(config.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Infof("shutting down with %d users connected", room.Online())
	room.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Logger.Error(err)
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		server.Logger.Error(err)
	}
	stopEngine()
}
