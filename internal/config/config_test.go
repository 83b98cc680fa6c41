package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("unexpected port %q", cfg.Port)
	}
	if cfg.StoreDriver != "sqlite" {
		t.Fatalf("unexpected store driver %q", cfg.StoreDriver)
	}
	if cfg.ConfidenceFloor != 0.55 {
		t.Fatalf("unexpected confidence floor %v", cfg.ConfidenceFloor)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected session TTL %v", cfg.SessionTTL)
	}
	order, ok := cfg.Workers["order"]
	if !ok || !order.SideEffecting {
		t.Fatalf("order worker should be side-effecting by default: %+v", order)
	}
	if cfg.Workers["inventory"].SideEffecting {
		t.Fatal("inventory worker should not be side-effecting")
	}
	if len(cfg.Workers) != 6 {
		t.Fatalf("expected 6 workers, got %d", len(cfg.Workers))
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("SESSION_TTL", "90")
	t.Setenv("TURN_TIMEOUT", "5s")
	t.Setenv("MAX_FAN_OUT", "8")
	t.Setenv("CORS_ORIGINS", "https://shop.example.com, http://localhost:3000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WORKER_INVENTORY_URL", "grpc://inventory:50051")
	t.Setenv("WORKER_INVENTORY_TIMEOUT", "2s")
	t.Setenv("WORKER_INVENTORY_RETRIES", "0")
	t.Setenv("SIDE_EFFECTING_WORKERS", "order,logistics")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StoreDriver != "memory" {
		t.Fatalf("unexpected driver %q", cfg.StoreDriver)
	}
	if cfg.SessionTTL != 90*time.Second {
		t.Fatalf("bare numbers are seconds, got %v", cfg.SessionTTL)
	}
	if cfg.TurnTimeout != 5*time.Second || cfg.MaxFanOut != 8 {
		t.Fatalf("unexpected turn settings: %v %d", cfg.TurnTimeout, cfg.MaxFanOut)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://shop.example.com" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.IsDevelopment() {
		t.Fatal("a public origin is not development")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected log level %v", cfg.LogLevel)
	}

	inv := cfg.Workers["inventory"]
	if inv.URL != "grpc://inventory:50051" || inv.Timeout != 2*time.Second || inv.MaxRetries != 0 {
		t.Fatalf("unexpected inventory config %+v", inv)
	}
	if !cfg.Workers["logistics"].SideEffecting {
		t.Fatal("logistics should be side-effecting")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"STORE_DRIVER":     "postgres",
		"CONFIDENCE_FLOOR": "1.5",
		"MAX_FAN_OUT":      "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}
