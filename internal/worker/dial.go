package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// Unconfigured stands in for a worker without an endpoint. Every call fails
// permanently so routes through it degrade instead of hanging.
type Unconfigured struct {
	Name string
}

// Call implements Worker.
func (u Unconfigured) Call(context.Context, Request) (*domain.Output, error) {
	return nil, NewPermanentError(fmt.Errorf("%s: %w", u.Name, ErrNotConfigured))
}

// Dial returns the transport for rawURL: http(s):// selects HTTPWorker,
// grpc:// selects GrpcWorker and an empty URL yields Unconfigured. The
// second result names the transport for status reporting.
func Dial(name, rawURL string, logger *slog.Logger) (Worker, string, error) {
	if rawURL == "" {
		return Unconfigured{Name: name}, "none", nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse %s worker url: %w", name, err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPWorker(rawURL, nil), "http", nil
	case "grpc":
		cfg := DefaultGrpcConfig(u.Host)
		cfg.Service = u.Query().Get("service")
		w, err := NewGrpcWorker(cfg, logger)
		if err != nil {
			return nil, "", err
		}
		return w, "grpc", nil
	default:
		return nil, "", fmt.Errorf("%s worker url %q: unsupported scheme %q", name, rawURL, u.Scheme)
	}
}
