package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/pulsechat/pulse/internal/adapter/driven/gateway/ws"
	repo "github.com/pulsechat/pulse/internal/adapter/driven/persistence/memory"
	"github.com/pulsechat/pulse/internal/adapter/driven/persistence/postgres"
	handler "github.com/pulsechat/pulse/internal/adapter/driving/http"
	"github.com/pulsechat/pulse/internal/auth"
	"github.com/pulsechat/pulse/internal/config"
	"github.com/pulsechat/pulse/internal/core/domain"
	"github.com/pulsechat/pulse/internal/core/port"
	"github.com/pulsechat/pulse/internal/core/service"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()
	zlog.Logger = l

	cfg, err := config.Load()
	if err != nil {
		l.Fatal().Err(err).Msg("Invalid configuration")
	}

	authMgr, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		l.Fatal().Err(err).Msg("Auth setup failed")
	}

	var (
		sink    port.CallRecordSink
		history port.CallHistory
	)
	if cfg.PostgresDSN != "" {
		pg, err := postgres.NewCallRepository(context.Background(), cfg.PostgresDSN)
		if err != nil {
			l.Fatal().Err(err).Msg("Postgres setup failed")
		}
		defer pg.Close()
		sink, history = pg, pg
		l.Info().Msg("Call records persisted to postgres")
	} else {
		mem := repo.NewCallRepository()
		sink, history = mem, mem
		l.Info().Msg("Call records kept in memory")
	}
	messages := repo.NewMessageRepository()

	connHub := ws.NewHub()
	metrics := service.NewMetrics(prometheus.DefaultRegisterer)

	registry := service.NewRegistry()
	signaling := service.NewSignalingHub(registry, connHub, sink, service.WithMetrics(metrics))
	chatService := service.NewChatService(messages, connHub)

	connHub.SetDisconnectListener(func(userID domain.UserID) {
		signaling.OnChannelClosed(context.Background(), userID)
	})

	go connHub.Run()
	go signaling.Run()

	h := handler.NewHandler(chatService, signaling, connHub, history, messages, authMgr)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	connHub.Stop()
	signaling.Stop()
	l.Info().Msg("Server exited")
}
