// Package coordinator executes a route's steps wave by wave against the
// worker adapters, isolating each step to its declared dependencies.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
	"github.com/MedGAN-AI/price-pilot/internal/worker"
	"github.com/MedGAN-AI/price-pilot/internal/workflow"
)

// DefaultMaxFanOut bounds how many steps of one wave run at once.
const DefaultMaxFanOut = 4

// StepRunner runs one step against a worker. *worker.Adapter satisfies it.
type StepRunner interface {
	Name() string
	Call(ctx context.Context, req worker.Request) domain.StepResult
}

var _ StepRunner = (*worker.Adapter)(nil)

// Snapshot is the session state a turn executes against.
type Snapshot struct {
	SessionID string
	TurnSeq   int
	Message   string
	Entities  map[string]string
}

// Execution is the outcome of one route.
type Execution struct {
	// Results holds one entry per step in declared order.
	Results []domain.StepResult
	// Degraded is set when any step did not finish ok.
	Degraded bool
	// Truncated is set when the turn deadline stopped later waves.
	Truncated bool
}

// Coordinator dispatches steps to runners by worker name.
type Coordinator struct {
	runners   map[string]StepRunner
	maxFanOut int
	logger    *slog.Logger
}

// New creates a coordinator. maxFanOut <= 0 selects DefaultMaxFanOut.
func New(runners []StepRunner, maxFanOut int, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFanOut <= 0 {
		maxFanOut = DefaultMaxFanOut
	}
	m := make(map[string]StepRunner, len(runners))
	for _, r := range runners {
		m[r.Name()] = r
	}
	return &Coordinator{runners: m, maxFanOut: maxFanOut, logger: logger}
}

// MaxFanOut returns the effective per-wave concurrency bound.
func (c *Coordinator) MaxFanOut() int { return c.maxFanOut }

// Execute runs route for one turn. ctx carries the turn deadline: it is
// checked before each wave, and once it has passed no further wave starts.
// Calls already dispatched run to completion under their own timeout.
func (c *Coordinator) Execute(ctx context.Context, route workflow.Route, snap Snapshot) Execution {
	steps := route.Steps()
	results := make([]domain.StepResult, len(steps))
	done := make([]bool, len(steps))
	index := make(map[string]int, len(steps))
	for i, st := range steps {
		index[st.Name] = i
	}

	callCtx := context.WithoutCancel(ctx)
	var exec Execution

	for w, wave := range route.Waves() {
		if err := ctx.Err(); err != nil {
			exec.Truncated = true
			c.logger.Warn("Turn deadline reached, skipping remaining waves",
				"session_id", snap.SessionID,
				"route", route.Name,
				"wave", w,
				"error", err)
			break
		}

		var g errgroup.Group
		g.SetLimit(c.maxFanOut)

		for _, st := range wave {
			i := index[st.Name]
			done[i] = true

			if failed, ok := firstFailedDependency(st, results, index); ok {
				results[i] = skipped(st, failed)
				continue
			}

			req := worker.Request{
				SessionID: snap.SessionID,
				TurnSeq:   snap.TurnSeq,
				Step:      st.Name,
				Message:   snap.Message,
				Input:     stepInput(st, steps, results, index, snap.Entities),
			}
			g.Go(func() error {
				results[i] = c.dispatch(callCtx, st, req)
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, st := range steps {
		if !done[i] {
			results[i] = domain.StepResult{
				Step:      st.Name,
				Worker:    st.Worker,
				Status:    domain.StepFailed,
				Error:     "turn deadline reached before the step started",
				ErrorKind: domain.ErrorDeadline,
			}
		}
		if results[i].Status != domain.StepOK {
			exec.Degraded = true
		}
	}
	exec.Results = results
	return exec
}

func (c *Coordinator) dispatch(ctx context.Context, st workflow.Step, req worker.Request) domain.StepResult {
	r, ok := c.runners[st.Worker]
	if !ok {
		c.logger.Error("No runner for worker", "worker", st.Worker, "step", st.Name)
		return domain.StepResult{
			Step:      st.Name,
			Worker:    st.Worker,
			Status:    domain.StepFailed,
			Error:     fmt.Sprintf("no runner registered for worker %s", st.Worker),
			ErrorKind: domain.ErrorPermanent,
		}
	}
	res := r.Call(ctx, req)
	res.Step = st.Name
	return res
}

func firstFailedDependency(st workflow.Step, results []domain.StepResult, index map[string]int) (string, bool) {
	for _, dep := range st.DependsOn {
		if !results[index[dep]].Succeeded() {
			return dep, true
		}
	}
	return "", false
}

func skipped(st workflow.Step, dep string) domain.StepResult {
	return domain.StepResult{
		Step:      st.Name,
		Worker:    st.Worker,
		Status:    domain.StepFailed,
		Error:     fmt.Sprintf("dependency %s did not succeed", dep),
		ErrorKind: domain.ErrorSkipped,
	}
}

// stepInput builds what a step may see: the session entities plus the
// outputs of its declared dependencies under their output keys.
func stepInput(st workflow.Step, steps []workflow.Step, results []domain.StepResult, index map[string]int, entities map[string]string) map[string]any {
	in := make(map[string]any, len(entities)+len(st.DependsOn))
	for k, v := range entities {
		in[k] = v
	}
	for _, dep := range st.DependsOn {
		i := index[dep]
		out := results[i].Output
		if out == nil {
			continue
		}
		cp := *out
		cp.Items = append([]domain.Item(nil), out.Items...)
		cp.Data = maps.Clone(out.Data)
		cp.Entities = maps.Clone(out.Entities)
		in[steps[i].OutputKey()] = &cp
	}
	return in
}
