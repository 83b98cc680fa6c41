// Package orchestrator handles one conversation turn end to end: session
// checkout, classification, routing, execution, synthesis and persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/MedGAN-AI/price-pilot/internal/audit"
	"github.com/MedGAN-AI/price-pilot/internal/coordinator"
	"github.com/MedGAN-AI/price-pilot/internal/domain"
	"github.com/MedGAN-AI/price-pilot/internal/identity"
	"github.com/MedGAN-AI/price-pilot/internal/intent"
	"github.com/MedGAN-AI/price-pilot/internal/metrics"
	"github.com/MedGAN-AI/price-pilot/internal/session"
	"github.com/MedGAN-AI/price-pilot/internal/synth"
	"github.com/MedGAN-AI/price-pilot/internal/worker"
	"github.com/MedGAN-AI/price-pilot/internal/workflow"
)

var (
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrSessionNotFound  = errors.New("session not found")
)

const (
	DefaultTurnTimeout   = 30 * time.Second
	DefaultHistoryWindow = 5
)

// TurnRequest is one incoming user message.
type TurnRequest struct {
	SessionID string
	Message   string
	// Context holds caller-supplied facts (user id, locale, a preselected
	// SKU, ...). Scalar values are remembered as session entities.
	Context map[string]any
	// Channel labels the entry point in the audit log.
	Channel string
}

// TurnResult is the reply to one turn.
type TurnResult struct {
	SessionID  string
	Turn       int
	Message    string
	Intent     domain.Intent
	Confidence float64
	// Route is the worker or workflow name that produced the reply.
	Route     string
	RouteKind workflow.RouteKind
	Status    domain.OverallStatus
	Timestamp time.Time
	Items     []domain.Item
	Steps     []domain.StepNote
}

// Config tunes turn handling.
type Config struct {
	TurnTimeout   time.Duration
	HistoryWindow int
	MaxFanOut     int
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Sessions   *session.Store
	Classifier *intent.Classifier
	Registry   *workflow.Registry
	Adapters   []*worker.Adapter
	Synth      *synth.Synthesizer
	Audit      audit.Logger
	Metrics    *metrics.Registry
	Logger     *slog.Logger
}

// Orchestrator is safe for concurrent use. Turns on distinct sessions run in
// parallel; turns on the same session are serialized by the session store.
type Orchestrator struct {
	sessions   *session.Store
	classifier *intent.Classifier
	registry   *workflow.Registry
	router     *workflow.Router
	coord      *coordinator.Coordinator
	synth      *synth.Synthesizer
	adapters   []*worker.Adapter
	audit      audit.Logger
	metrics    *metrics.Registry
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source used for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New wires an Orchestrator. Nil optional deps get defaults: the keyword
// classifier, the built-in workflows, the default synthesizer and a no-op
// audit log.
func New(d Deps, cfg Config, opts ...Option) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Classifier == nil {
		d.Classifier = intent.NewClassifier(nil, 0)
	}
	if d.Registry == nil {
		d.Registry = workflow.DefaultRegistry()
	}
	if d.Synth == nil {
		d.Synth = synth.New()
	}
	if d.Audit == nil {
		d.Audit = audit.Noop{}
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}

	runners := make([]coordinator.StepRunner, len(d.Adapters))
	for i, a := range d.Adapters {
		if d.Metrics != nil {
			a.SetRecorder(d.Metrics)
		}
		runners[i] = a
	}

	o := &Orchestrator{
		sessions:   d.Sessions,
		classifier: d.Classifier,
		registry:   d.Registry,
		router:     workflow.NewRouter(d.Registry),
		coord:      coordinator.New(runners, cfg.MaxFanOut, d.Logger),
		synth:      d.Synth,
		adapters:   d.Adapters,
		audit:      d.Audit,
		metrics:    d.Metrics,
		logger:     d.Logger,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleTurn processes one message. Worker failures never surface as an
// error: they shape the reply and its status instead. Errors are returned
// only for invalid input, a cancelled wait for the session, or storage
// failures (wrapping session.ErrStorage).
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	id, ok := identity.Sanitize(req.SessionID)
	if !ok {
		return nil, ErrInvalidSessionID
	}
	if id == "" {
		id = identity.NewSessionID()
	}
	channel := req.Channel
	if channel == "" {
		channel = "api"
	}

	defer o.metrics.TurnStarted()()
	start := o.now()

	lease, err := o.sessions.Checkout(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("checkout session: %w", err)
	}
	defer lease.Release()

	sess := lease.Session
	seq := sess.NextSeq()
	sess.MergeEntities(contextEntities(req.Context))

	res := o.classifier.Classify(msg, intent.Context{
		RecentTurns: sess.RecentTurns(o.cfg.HistoryWindow),
		Entities:    sess.Entities,
	})
	sess.MergeEntities(res.Entities)
	route := o.router.Select(res, msg)

	o.audit.Log(audit.Event{
		SessionID:  id,
		TurnSeq:    seq,
		Channel:    channel,
		Direction:  audit.DirectionInbound,
		EventType:  audit.EventUserMessage,
		ContentRaw: msg,
		Intent:     res.Intent,
		Confidence: res.Confidence,
		Route:      route.Name,
	})

	turnCtx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	exec := o.coord.Execute(turnCtx, route, coordinator.Snapshot{
		SessionID: id,
		TurnSeq:   seq,
		Message:   msg,
		Entities:  maps.Clone(sess.Entities),
	})
	cancel()

	resp := o.synth.Synthesize(exec.Results)
	for _, r := range exec.Results {
		if r.Succeeded() && r.Output != nil {
			sess.MergeEntities(r.Output.Entities)
		}
	}

	now := o.now()
	sess.AppendTurn(domain.Turn{
		Seq:        seq,
		Message:    msg,
		Timestamp:  now,
		Intent:     res.Intent,
		Confidence: res.Confidence,
		RouteKind:  string(route.Kind),
		Route:      route.Name,
		Response:   resp.Message,
		Status:     resp.Status,
		Steps:      exec.Results,
	})

	// Workers may already have acted on this turn, so persist it even if the
	// caller has gone away.
	if err := lease.Save(context.WithoutCancel(ctx)); err != nil {
		o.logger.Error("Failed to persist turn", "session_id", id, "turn", seq, "error", err)
		return nil, err
	}

	o.audit.Log(audit.Event{
		SessionID:  id,
		TurnSeq:    seq,
		Channel:    channel,
		Direction:  audit.DirectionOutbound,
		EventType:  audit.EventReply,
		ContentRaw: resp.Message,
		Intent:     res.Intent,
		Confidence: res.Confidence,
		Route:      route.Name,
		Status:     string(resp.Status),
		Steps:      exec.Results,
	})

	elapsed := now.Sub(start)
	o.metrics.ObserveTurn(route.Name, resp.Status, elapsed)
	o.logger.Info("Turn handled",
		"session_id", id,
		"turn", seq,
		"intent", res.Intent,
		"confidence", res.Confidence,
		"reason", res.Reason,
		"route", route.Name,
		"status", resp.Status,
		"truncated", exec.Truncated,
		"duration", elapsed)

	return &TurnResult{
		SessionID:  id,
		Turn:       seq,
		Message:    resp.Message,
		Intent:     res.Intent,
		Confidence: res.Confidence,
		Route:      route.Name,
		RouteKind:  route.Kind,
		Status:     resp.Status,
		Timestamp:  now,
		Items:      resp.Items,
		Steps:      resp.Steps,
	}, nil
}

// History returns a read-only snapshot of a session, turns oldest first.
func (o *Orchestrator) History(ctx context.Context, id string) (*domain.Session, error) {
	id, ok := identity.Sanitize(id)
	if !ok || id == "" {
		return nil, ErrInvalidSessionID
	}
	sess, found, err := o.sessions.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Reset discards a session and its history.
func (o *Orchestrator) Reset(ctx context.Context, id string) error {
	id, ok := identity.Sanitize(id)
	if !ok || id == "" {
		return ErrInvalidSessionID
	}
	if err := o.sessions.Delete(ctx, id); err != nil {
		return err
	}
	o.audit.Log(audit.Event{
		SessionID: id,
		Channel:   "api",
		Direction: audit.DirectionInbound,
		EventType: audit.EventSessionReset,
	})
	o.logger.Info("Session reset", "session_id", id)
	return nil
}

// WorkerStatus reports each worker's health as seen by its adapter.
func (o *Orchestrator) WorkerStatus() []worker.Status {
	out := make([]worker.Status, len(o.adapters))
	for i, a := range o.adapters {
		out[i] = a.Status()
	}
	return out
}

// ProbeWorkers checks every worker that supports probing and logs the
// ones that did not answer.
func (o *Orchestrator) ProbeWorkers(ctx context.Context) {
	for _, a := range o.adapters {
		if err := a.Probe(ctx); err != nil {
			o.logger.Warn("Worker probe failed", "worker", a.Name(), "error", err)
		}
	}
}

// Workflows lists the registered workflows in registration order.
func (o *Orchestrator) Workflows() []workflow.Definition {
	return o.registry.List()
}

// MaxFanOut returns the effective per-wave concurrency bound.
func (o *Orchestrator) MaxFanOut() int {
	return o.coord.MaxFanOut()
}

func contextEntities(cx map[string]any) map[string]string {
	if len(cx) == 0 {
		return nil
	}
	out := make(map[string]string, len(cx))
	for k, v := range cx {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = strings.TrimSpace(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case int:
			out[k] = strconv.Itoa(val)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}
