package config_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/aulalink/realtime/pkg/config"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(newTestLogger(), "no-such-config")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Socket.URL != "http://localhost:5000" {
		t.Errorf("socket.url default = %q", cfg.Socket.URL)
	}
	if cfg.API.BaseURL != "http://localhost:5000/api" {
		t.Errorf("api.baseURL default = %q", cfg.API.BaseURL)
	}
	if cfg.Transport.ReconnectAttempts != 5 {
		t.Errorf("reconnectAttempts default = %d, want 5", cfg.Transport.ReconnectAttempts)
	}
	if cfg.Transport.ReconnectDelay != time.Second {
		t.Errorf("reconnectDelay default = %v, want 1s", cfg.Transport.ReconnectDelay)
	}
	if cfg.Transport.ReadTimeout != 60*time.Second {
		t.Errorf("readTimeout default = %v, want 60s", cfg.Transport.ReadTimeout)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AULALINK_SOCKET_URL", "https://push.aulalink.edu")
	t.Setenv("AULALINK_LOG_LEVEL", "debug")

	cfg, err := config.Load(newTestLogger(), "no-such-config")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Socket.URL != "https://push.aulalink.edu" {
		t.Errorf("socket.url = %q, env override ignored", cfg.Socket.URL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, env override ignored", cfg.Log.Level)
	}
}
