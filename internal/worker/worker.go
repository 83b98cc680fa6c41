// Package worker adapts external specialized workers (stock lookup,
// recommendation, ordering, logistics, forecasting, chat) behind a uniform
// call contract with timeouts, bounded retries and health tracking.
package worker

import (
	"context"
	"strconv"
	"strings"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// Request is the payload sent to a worker for one step.
type Request struct {
	SessionID string         `json:"session_id"`
	TurnSeq   int            `json:"turn"`
	Step      string         `json:"step"`
	Worker    string         `json:"worker"`
	Message   string         `json:"message"`
	Input     map[string]any `json:"input,omitempty"`
	// IdempotencyKey is set for side-effecting workers and is identical
	// across retries of the same step.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Worker is a transport to one external worker.
type Worker interface {
	Call(ctx context.Context, req Request) (*domain.Output, error)
}

// Prober is implemented by transports that can check reachability without
// performing work.
type Prober interface {
	Probe(ctx context.Context) error
}

// Func adapts a function to the Worker interface.
type Func func(ctx context.Context, req Request) (*domain.Output, error)

// Call implements Worker.
func (f Func) Call(ctx context.Context, req Request) (*domain.Output, error) {
	return f(ctx, req)
}

// Names lists every worker the orchestrator can dispatch to.
func Names() []string {
	names := make([]string, len(domain.IntentPriority))
	for i, in := range domain.IntentPriority {
		names[i] = string(in)
	}
	return names
}

// IdempotencyKey derives the key for one step of one turn. Retries of the
// step reuse it; a new turn or another step never does.
func IdempotencyKey(sessionID string, turnSeq int, step string) string {
	return strings.Join([]string{sessionID, strconv.Itoa(turnSeq), step}, "/")
}
