package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

const (
	idempotencyHeader   = "Idempotency-Key"
	maxWorkerResponse   = 4 << 20
	maxErrorBodyPreview = 256
)

// HTTPWorker calls a worker that accepts a JSON Request by POST and answers
// with a JSON domain.Output.
type HTTPWorker struct {
	endpoint string
	client   *http.Client
}

// NewHTTPWorker creates an HTTP transport. A nil client selects a client
// without its own timeout; the adapter bounds each call.
func NewHTTPWorker(endpoint string, client *http.Client) *HTTPWorker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPWorker{endpoint: endpoint, client: client}
}

// Call implements Worker.
func (w *HTTPWorker) Call(ctx context.Context, req Request) (*domain.Output, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, NewPermanentError(fmt.Errorf("encode worker request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewPermanentError(fmt.Errorf("build worker request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(idempotencyHeader, req.IdempotencyKey)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyPreview))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(preview))}
	}

	var out domain.Output
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxWorkerResponse)).Decode(&out); err != nil {
		// A stalled or cut-off body is a transport fault; only malformed JSON
		// is the worker's fault.
		if ctx.Err() != nil {
			return nil, NewTransientError(fmt.Errorf("read worker response: %w", ctx.Err()))
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return nil, NewPermanentError(fmt.Errorf("decode worker response: %w", err))
		}
		return nil, fmt.Errorf("read worker response: %w", err)
	}
	return &out, nil
}
