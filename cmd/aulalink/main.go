package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/aulalink/realtime/internal/notify"
	"github.com/aulalink/realtime/internal/socket"
	"github.com/aulalink/realtime/pkg/config"
	"github.com/aulalink/realtime/pkg/logging"
	"github.com/aulalink/realtime/pkg/session"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// The portal shell writes session state before this layer starts;
	// the demo binary takes it from the environment instead.
	store := session.NewMemoryStore()
	if token := os.Getenv("AULALINK_TOKEN"); token != "" {
		store.Set(session.KeyToken, token)
	}
	if user := os.Getenv("AULALINK_USER"); user != "" {
		store.Set(session.KeyUser, user)
	}

	manager := socket.NewManager(logger, store, socket.DefaultFactory(logger, cfg))
	manager.Ensure(ctx)

	identity, ok := session.Resolve(logger, store)
	if !ok {
		logger.Warn("No identity in session state; waiting for registration to become possible")
	}

	api := notify.NewAPIClient(logger, cfg.API.BaseURL)
	feed := notify.NewFeed(logger, identity.Role, store, api, notify.NewLogAlerter(logger))
	manager.SetHandlers(feed.Handlers())
	go feed.Hydrate(ctx)

	<-ctx.Done()
	logger.Info("Shutting down",
		slog.String("connection", manager.State().String()),
		slog.Int("unread", feed.UnreadCount()),
	)
}
