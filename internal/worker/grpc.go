package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// CallMethod is the gRPC method every worker service exposes. Requests and
// responses are google.protobuf.Struct values mirroring the JSON contract.
const CallMethod = "/pricepilot.worker.v1.Worker/Call"

const idempotencyMetadataKey = "idempotency-key"

// GrpcConfig holds connection settings for a gRPC worker.
type GrpcConfig struct {
	Address          string
	Service          string // health-check service name
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcConfig returns default settings for addr.
func DefaultGrpcConfig(addr string) GrpcConfig {
	return GrpcConfig{
		Address:          addr,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcWorker calls a worker over gRPC.
type GrpcWorker struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	cfg    GrpcConfig
	logger *slog.Logger
}

// NewGrpcWorker builds a client connection. No network I/O happens until
// the first call or probe.
func NewGrpcWorker(cfg GrpcConfig, logger *slog.Logger) (*GrpcWorker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("create gRPC client for %s: %w", cfg.Address, err)
	}

	return &GrpcWorker{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Call implements Worker.
func (w *GrpcWorker) Call(ctx context.Context, req Request) (*domain.Output, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, NewPermanentError(err)
	}
	if req.IdempotencyKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyMetadataKey, req.IdempotencyKey)
	}

	out := &structpb.Struct{}
	if err := w.conn.Invoke(ctx, CallMethod, in, out); err != nil {
		return nil, err
	}

	res, err := fromStruct(out)
	if err != nil {
		return nil, NewPermanentError(err)
	}
	return res, nil
}

// Probe runs the standard gRPC health check.
func (w *GrpcWorker) Probe(ctx context.Context) error {
	resp, err := w.health.Check(ctx, &healthpb.HealthCheckRequest{Service: w.cfg.Service})
	if err != nil {
		return fmt.Errorf("health check %s: %w", w.cfg.Address, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("worker at %s is %s", w.cfg.Address, resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection.
func (w *GrpcWorker) Close() error {
	if w.conn == nil {
		return nil
	}
	if err := w.conn.Close(); err != nil {
		w.logger.Warn("failed to close gRPC connection", "address", w.cfg.Address, "error", err)
		return err
	}
	return nil
}

func toStruct(req Request) (*structpb.Struct, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("convert worker request: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct) (*domain.Output, error) {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, fmt.Errorf("decode worker response: %w", err)
	}
	var out domain.Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode worker response: %w", err)
	}
	return &out, nil
}
