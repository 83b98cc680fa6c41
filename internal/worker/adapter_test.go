package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

func fastConfig(name string) Config {
	return Config{
		Name:        name,
		Timeout:     time.Second,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func baseRequest() Request {
	return Request{SessionID: "sess-1", TurnSeq: 3, Step: "order", Message: "buy it"}
}

func TestAdapterRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	w := Func(func(context.Context, Request) (*domain.Output, error) {
		if calls.Add(1) < 3 {
			return nil, NewTransientError(errors.New("connection reset"))
		}
		return &domain.Output{Message: "done"}, nil
	})

	a := NewAdapter(fastConfig("inventory"), w, nil)
	res := a.Call(context.Background(), baseRequest())

	assert.Equal(t, domain.StepOK, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "done", res.Output.Message)
	assert.Empty(t, res.Error)

	st := a.Status()
	assert.True(t, st.Reachable)
	assert.Equal(t, OutcomeOK, st.LastOutcome)
	assert.Zero(t, st.ConsecutiveFailures)
}

func TestAdapterDoesNotRetryPermanent(t *testing.T) {
	var calls atomic.Int32
	w := Func(func(context.Context, Request) (*domain.Output, error) {
		calls.Add(1)
		return nil, NewPermanentError(errors.New("unknown sku"))
	})

	a := NewAdapter(fastConfig("inventory"), w, nil)
	res := a.Call(context.Background(), baseRequest())

	assert.Equal(t, domain.StepFailed, res.Status)
	assert.Equal(t, domain.ErrorPermanent, res.ErrorKind)
	assert.Equal(t, int32(1), calls.Load())
	assert.Nil(t, res.Output)
	assert.True(t, a.Status().Reachable)
}

func TestAdapterGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	w := Func(func(context.Context, Request) (*domain.Output, error) {
		calls.Add(1)
		return nil, NewTransientError(errors.New("503"))
	})

	a := NewAdapter(fastConfig("logistics"), w, nil)
	res := a.Call(context.Background(), baseRequest())

	assert.Equal(t, domain.StepFailed, res.Status)
	assert.Equal(t, domain.ErrorTransient, res.ErrorKind)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, res.Attempts)

	st := a.Status()
	assert.False(t, st.Reachable)
	assert.Equal(t, OutcomeTransientError, st.LastOutcome)
	assert.Equal(t, 1, st.ConsecutiveFailures)
}

func TestAdapterTimeoutIsTransient(t *testing.T) {
	var calls atomic.Int32
	w := Func(func(ctx context.Context, _ Request) (*domain.Output, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cfg := fastConfig("forecast")
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRetries = 1
	a := NewAdapter(cfg, w, nil)

	res := a.Call(context.Background(), baseRequest())
	assert.Equal(t, domain.StepFailed, res.Status)
	assert.Equal(t, domain.ErrorTransient, res.ErrorKind)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAdapterIdempotencyKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	w := Func(func(_ context.Context, req Request) (*domain.Output, error) {
		mu.Lock()
		keys = append(keys, req.IdempotencyKey)
		n := len(keys)
		mu.Unlock()
		if n == 1 {
			return nil, NewTransientError(errors.New("timeout"))
		}
		return &domain.Output{}, nil
	})

	cfg := fastConfig("order")
	cfg.SideEffecting = true
	a := NewAdapter(cfg, w, nil)

	a.Call(context.Background(), baseRequest())
	require.Len(t, keys, 2)
	assert.Equal(t, "sess-1/3/order", keys[0])
	assert.Equal(t, keys[0], keys[1], "retries must reuse the key")

	next := baseRequest()
	next.TurnSeq = 4
	a.Call(context.Background(), next)
	assert.NotEqual(t, keys[0], keys[2], "a new turn must get a new key")

	plain := NewAdapter(fastConfig("inventory"), w, nil)
	plain.Call(context.Background(), baseRequest())
	assert.Empty(t, keys[len(keys)-1])
}

func TestAdapterDegradedOutput(t *testing.T) {
	w := Func(func(context.Context, Request) (*domain.Output, error) {
		return &domain.Output{Message: "12 units", Degraded: true, Note: "stock data may be stale"}, nil
	})

	a := NewAdapter(fastConfig("inventory"), w, nil)
	res := a.Call(context.Background(), baseRequest())

	assert.Equal(t, domain.StepDegraded, res.Status)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "stock data may be stale", res.Error)
	assert.Equal(t, OutcomeDegraded, a.Status().LastOutcome)
}

func TestAdapterUnconfiguredWorker(t *testing.T) {
	a := NewAdapter(fastConfig("forecast"), Unconfigured{Name: "forecast"}, nil)
	assert.False(t, a.Status().Reachable)

	res := a.Call(context.Background(), baseRequest())
	assert.Equal(t, domain.StepFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, OutcomeNotConfigured, a.Status().LastOutcome)
}

type recorderFunc func(string, domain.StepStatus, int, time.Duration)

func (f recorderFunc) ObserveWorkerCall(w string, s domain.StepStatus, n int, d time.Duration) {
	f(w, s, n, d)
}

func TestAdapterRecordsMetrics(t *testing.T) {
	var got domain.StepStatus
	a := NewAdapter(fastConfig("chat"), Func(func(context.Context, Request) (*domain.Output, error) {
		return &domain.Output{Message: "hi"}, nil
	}), nil)
	a.SetRecorder(recorderFunc(func(_ string, s domain.StepStatus, _ int, _ time.Duration) { got = s }))

	a.Call(context.Background(), baseRequest())
	assert.Equal(t, domain.StepOK, got)
}

func TestHTTPWorkerThroughAdapter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sess-1/3/order", r.Header.Get("Idempotency-Key"))
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "order", req.Worker)

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(domain.Output{
			Message:  "Order placed",
			Entities: map[string]string{"order_id": "ORD-1"},
		})
	}))
	defer srv.Close()

	cfg := fastConfig("order")
	cfg.SideEffecting = true
	a := NewAdapter(cfg, NewHTTPWorker(srv.URL, nil), nil)

	res := a.Call(context.Background(), baseRequest())
	require.Equal(t, domain.StepOK, res.Status, res.Error)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "ORD-1", res.Output.Entities["order_id"])
}

func TestHTTPWorkerStalledBodyIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"par`))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := fastConfig("inventory")
	cfg.Timeout = 50 * time.Millisecond
	a := NewAdapter(cfg, NewHTTPWorker(srv.URL, nil), nil)

	res := a.Call(context.Background(), baseRequest())
	assert.Equal(t, domain.StepFailed, res.Status)
	assert.Equal(t, domain.ErrorTransient, res.ErrorKind)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPWorkerMalformedBodyIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message": 42}`))
	}))
	defer srv.Close()

	a := NewAdapter(fastConfig("inventory"), NewHTTPWorker(srv.URL, nil), nil)
	res := a.Call(context.Background(), baseRequest())

	assert.Equal(t, domain.StepFailed, res.Status)
	assert.Equal(t, domain.ErrorPermanent, res.ErrorKind)
	assert.Equal(t, 1, res.Attempts)
}

func TestHTTPWorkerClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown sku", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	a := NewAdapter(fastConfig("inventory"), NewHTTPWorker(srv.URL, nil), nil)
	res := a.Call(context.Background(), baseRequest())

	assert.Equal(t, domain.StepFailed, res.Status)
	assert.Equal(t, domain.ErrorPermanent, res.ErrorKind)
	assert.Equal(t, 1, res.Attempts)
}

func startGrpcWorker(t *testing.T, handler func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		if method != CallMethod {
			return status.Errorf(codes.Unimplemented, "unknown method %s", method)
		}
		in := &structpb.Struct{}
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		out, err := handler(stream.Context(), in)
		if err != nil {
			return err
		}
		return stream.SendMsg(out)
	}))
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestGrpcWorkerThroughAdapter(t *testing.T) {
	var calls atomic.Int32
	addr := startGrpcWorker(t, func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if got := md.Get("idempotency-key"); len(got) != 1 || got[0] != "sess-1/3/order" {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("bad idempotency key %v", got))
		}
		if calls.Add(1) == 1 {
			return nil, status.Error(codes.Unavailable, "warming up")
		}
		return structpb.NewStruct(map[string]any{
			"message": "Order placed for " + in.GetFields()["session_id"].GetStringValue(),
			"items": []any{
				map[string]any{"id": "SKU-42", "name": "Red Shirt", "price": 19.99},
			},
		})
	})

	w, transport, err := Dial("order", "grpc://"+addr, nil)
	require.NoError(t, err)
	assert.Equal(t, "grpc", transport)
	defer func() { _ = w.(*GrpcWorker).Close() }()

	cfg := fastConfig("order")
	cfg.SideEffecting = true
	cfg.Transport = transport
	a := NewAdapter(cfg, w, nil)

	require.NoError(t, a.Probe(context.Background()))

	res := a.Call(context.Background(), baseRequest())
	require.Equal(t, domain.StepOK, res.Status, res.Error)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "Order placed for sess-1", res.Output.Message)
	require.Len(t, res.Output.Items, 1)
	assert.Equal(t, "SKU-42", res.Output.Items[0].ID)
	assert.InDelta(t, 19.99, res.Output.Items[0].Price, 1e-9)
	assert.Equal(t, "grpc", a.Status().Transport)
}

func TestGrpcInvalidArgumentIsPermanent(t *testing.T) {
	addr := startGrpcWorker(t, func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.InvalidArgument, "missing email")
	})
	w, _, err := Dial("order", "grpc://"+addr, nil)
	require.NoError(t, err)
	defer func() { _ = w.(*GrpcWorker).Close() }()

	res := NewAdapter(fastConfig("order"), w, nil).Call(context.Background(), baseRequest())
	assert.Equal(t, domain.ErrorPermanent, res.ErrorKind)
	assert.Equal(t, 1, res.Attempts)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"http 429", &StatusError{Code: http.StatusTooManyRequests}, true},
		{"http 404", &StatusError{Code: http.StatusNotFound}, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc not found", status.Error(codes.NotFound, "no such sku"), false},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"url dial error", &url.Error{Op: "Post", URL: "http://inventory", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, true},
		{"url timeout", &url.Error{Op: "Post", URL: "http://inventory", Err: timeoutError{}}, true},
		{"url bad scheme", &url.Error{Op: "Post", URL: "htp://inventory", Err: errors.New("unsupported protocol scheme \"htp\"")}, false},
		{"connection closed", &url.Error{Op: "Post", URL: "http://inventory", Err: io.EOF}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.transient, IsTransient(got))
			assert.Equal(t, !tt.transient, IsPermanent(got))
		})
	}
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	_, _, err := Dial("chat", "amqp://broker/chat", nil)
	assert.Error(t, err)

	w, transport, err := Dial("chat", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "none", transport)
	assert.IsType(t, Unconfigured{}, w)
}
