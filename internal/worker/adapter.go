package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// Config controls how an adapter calls its worker.
type Config struct {
	Name    string
	Timeout time.Duration
	// MaxRetries bounds the retries after the first attempt. Only transient
	// failures are retried.
	MaxRetries  int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
	// SideEffecting workers receive an idempotency key with every call.
	SideEffecting bool
	// Transport is a label for the status endpoint ("http", "grpc", ...).
	Transport string
}

// DefaultConfig returns the defaults for the named worker.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		Timeout:     10 * time.Second,
		MaxRetries:  2,
		BackoffBase: 200 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

// Recorder receives per-call measurements.
type Recorder interface {
	ObserveWorkerCall(worker string, status domain.StepStatus, attempts int, elapsed time.Duration)
}

// Adapter wraps one Worker with the uniform call contract.
type Adapter struct {
	cfg      Config
	worker   Worker
	health   *health
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewAdapter creates an adapter for w. A nil logger selects slog.Default.
func NewAdapter(cfg Config, w Worker, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig(cfg.Name)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.MaxBackoff < cfg.BackoffBase {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.BackoffBase)
	}
	_, unconfigured := w.(Unconfigured)
	if cfg.Transport == "" {
		cfg.Transport = "custom"
	}
	return &Adapter{
		cfg:    cfg,
		worker: w,
		health: newHealth(cfg.Name, cfg.Transport, !unconfigured),
		logger: logger.With("worker", cfg.Name),
		now:    time.Now,
	}
}

// SetRecorder attaches a metrics recorder.
func (a *Adapter) SetRecorder(r Recorder) { a.recorder = r }

// Name returns the worker name.
func (a *Adapter) Name() string { return a.cfg.Name }

// Config returns the effective configuration.
func (a *Adapter) Config() Config { return a.cfg }

// Status returns the worker's current health view.
func (a *Adapter) Status() Status { return a.health.snapshot() }

// Call invokes the worker for one step and always returns a StepResult.
// Transient failures are retried with exponential backoff up to MaxRetries;
// permanent failures return immediately.
func (a *Adapter) Call(ctx context.Context, req Request) domain.StepResult {
	req.Worker = a.cfg.Name
	if a.cfg.SideEffecting && req.IdempotencyKey == "" {
		req.IdempotencyKey = IdempotencyKey(req.SessionID, req.TurnSeq, req.Step)
	}

	start := a.now()
	attempts := 0
	var out *domain.Output

	op := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		o, err := a.worker.Call(callCtx, req)
		if err == nil && o == nil {
			err = NewPermanentError(errors.New("worker returned no output"))
		}
		if err != nil {
			err = Classify(err)
			if IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = o
		return nil
	}

	notify := func(err error, wait time.Duration) {
		a.logger.Warn("Worker call failed, retrying",
			"step", req.Step,
			"session_id", req.SessionID,
			"attempt", attempts,
			"wait", wait,
			"error", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(a.newBackOff(), uint64(a.cfg.MaxRetries)), ctx), notify)
	elapsed := a.now().Sub(start)

	res := domain.StepResult{
		Step:     req.Step,
		Worker:   a.cfg.Name,
		Attempts: attempts,
		Duration: elapsed,
	}

	switch {
	case err != nil:
		err = Classify(err)
		res.Status = domain.StepFailed
		res.Error = err.Error()
		res.ErrorKind = domain.ErrorPermanent
		outcome := OutcomePermanentError
		if IsTransient(err) {
			res.ErrorKind = domain.ErrorTransient
			outcome = OutcomeTransientError
		}
		if errors.Is(err, ErrNotConfigured) {
			outcome = OutcomeNotConfigured
		}
		a.health.record(outcome, a.now())
		a.logger.Error("Worker call failed",
			"step", req.Step,
			"session_id", req.SessionID,
			"attempts", attempts,
			"kind", res.ErrorKind,
			"error", err)

	case out.Degraded:
		res.Status = domain.StepDegraded
		res.Output = out
		res.Error = out.Note
		if res.Error == "" {
			res.Error = "partial result"
		}
		a.health.record(OutcomeDegraded, a.now())

	default:
		res.Status = domain.StepOK
		res.Output = out
		a.health.record(OutcomeOK, a.now())
	}

	if a.recorder != nil {
		a.recorder.ObserveWorkerCall(a.cfg.Name, res.Status, attempts, elapsed)
	}
	return res
}

// Probe checks reachability when the transport supports it and records the
// outcome. Transports without probing report nil.
func (a *Adapter) Probe(ctx context.Context) error {
	p, ok := a.worker.(Prober)
	if !ok {
		return nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	if err := p.Probe(probeCtx); err != nil {
		a.health.record(OutcomeTransientError, a.now())
		return err
	}
	a.health.record(OutcomeOK, a.now())
	return nil
}

func (a *Adapter) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.BackoffBase
	b.MaxInterval = a.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	return b
}
