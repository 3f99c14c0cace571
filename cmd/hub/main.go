package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-chat-hub/internal/config"
	"github.com/weiawesome/wes-chat-hub/internal/handler"
	"github.com/weiawesome/wes-chat-hub/internal/hub"
	"github.com/weiawesome/wes-chat-hub/internal/ice"
	"github.com/weiawesome/wes-chat-hub/internal/idgen"
	"github.com/weiawesome/wes-chat-hub/internal/kafka"
	"github.com/weiawesome/wes-chat-hub/internal/moderation"
	"github.com/weiawesome/wes-chat-hub/internal/msglog"
	"github.com/weiawesome/wes-chat-hub/internal/registry"
	"github.com/weiawesome/wes-chat-hub/internal/relay"
	"github.com/weiawesome/wes-chat-hub/internal/service"
	"github.com/weiawesome/wes-chat-hub/internal/store"
	pkglog "github.com/weiawesome/wes-chat-hub/pkg/log"
	"github.com/weiawesome/wes-chat-hub/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}

	pkglog.Init(cfg.Log)
	l := pkglog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		l.Fatal().Err(err).Msg("chat hub stopped with error")
	}
	l.Info().Msg("chat hub stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	l := pkglog.L()

	// Durable chat history
	chatLog, err := msglog.New(ctx, cfg.Store.Log)
	if err != nil {
		return fmt.Errorf("failed to open chat log: %w", err)
	}
	ids, err := idgen.New(cfg.IDGen)
	if err != nil {
		chatLog.Close()
		return fmt.Errorf("failed to create id generator: %w", err)
	}
	st := store.New(chatLog, ids)
	defer st.Close()

	if err := st.Load(ctx); err != nil {
		return fmt.Errorf("failed to load chat history: %w", err)
	}
	if cfg.Store.CompactOnStart {
		compacted, err := st.Compact(ctx)
		if err != nil {
			return fmt.Errorf("failed to compact chat log: %w", err)
		}
		if compacted {
			l.Info().Int("messages", st.Len()).Msg("chat log compacted")
		}
	}
	l.Info().
		Str("driver", cfg.Store.Log.Driver).
		Str("id_strategy", ids.Name()).
		Int("messages", st.Len()).
		Msg("chat history loaded")

	// Media blobs
	blobs, err := storage.New(ctx, cfg.Media.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize media storage: %w", err)
	}

	// Kafka export
	var producer kafka.ChatEventProducer = kafka.NoopProducer{}
	if cfg.Kafka.Enabled {
		p, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			return fmt.Errorf("failed to initialize kafka producer: %w", err)
		}
		producer = p
		l.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka export enabled")
	}

	mod := moderation.NewManager(cfg.Moderation.JWTSecret, cfg.Moderation.Issuer, cfg.Moderation.TokenTTL)

	// Hub and chat service
	wsHub := hub.NewHub()
	reg := registry.New()
	chatSvc := service.NewChatService(wsHub, reg, st, relay.New(reg, wsHub), producer, mod)
	if err := chatSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start chat service: %w", err)
	}
	defer func() {
		if err := chatSvc.Stop(); err != nil {
			l.Error().Err(err).Msg("failed to stop chat service")
		}
	}()

	wsHandler := handler.NewWSHandler(wsHub, chatSvc, cfg.WebSocket)
	iceServers := ice.NewProvider(cfg.ICE)
	l.Info().Bool("turn", iceServers.TURNEnabled()).Msg("ice servers configured")
	httpHandler := handler.NewHTTPHandler(chatSvc, blobs, idgen.NewULIDGenerator(), cfg.Media, wsHub, iceServers)

	// Setup Gin router
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(l, "/health"))
	httpHandler.RegisterRoutes(router)

	wsMux := http.NewServeMux()
	wsHandler.RegisterRoutes(wsMux)

	mux := http.NewServeMux()
	mux.Handle("/ws", pkglog.HTTPMiddleware(l)(wsMux))
	mux.Handle("/", router)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(hubCtx)
		return nil
	})
	g.Go(func() error {
		l.Info().Str("addr", server.Addr).Msg("chat hub listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		l.Info().Msg("shutting down chat hub")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		// Closing the hub drops every WebSocket, which server.Shutdown does not track.
		cancelHub()
		if err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
