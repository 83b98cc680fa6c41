package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
	"github.com/MedGAN-AI/price-pilot/internal/worker"
	"github.com/MedGAN-AI/price-pilot/internal/workflow"
)

// fakeRunner answers every step with a canned result and records what it
// was asked.
type fakeRunner struct {
	name  string
	delay time.Duration
	fail  map[string]bool

	mu       sync.Mutex
	calls    map[string]int
	inputs   map[string]map[string]any
	ctxErrs  []error
	inFlight *atomic.Int32
	peak     *atomic.Int32
}

func newFakeRunner(name string) *fakeRunner {
	return &fakeRunner{
		name:     name,
		fail:     map[string]bool{},
		calls:    map[string]int{},
		inputs:   map[string]map[string]any{},
		inFlight: &atomic.Int32{},
		peak:     &atomic.Int32{},
	}
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) Call(ctx context.Context, req worker.Request) domain.StepResult {
	n := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer f.inFlight.Add(-1)

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls[req.Step]++
	f.inputs[req.Step] = req.Input
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()

	if f.fail[req.Step] {
		return domain.StepResult{Worker: f.name, Status: domain.StepFailed, Error: "boom", ErrorKind: domain.ErrorPermanent, Attempts: 1}
	}
	return domain.StepResult{
		Worker:   f.name,
		Status:   domain.StepOK,
		Output:   &domain.Output{Message: req.Step + " done", Items: []domain.Item{{ID: req.Step}}},
		Attempts: 1,
	}
}

func runnersFor(names ...string) (map[string]*fakeRunner, []StepRunner) {
	byName := map[string]*fakeRunner{}
	var list []StepRunner
	for _, n := range names {
		r := newFakeRunner(n)
		byName[n] = r
		list = append(list, r)
	}
	return byName, list
}

func snapshot() Snapshot {
	return Snapshot{SessionID: "s1", TurnSeq: 1, Message: "hello", Entities: map[string]string{"sku": "SKU-42"}}
}

func TestExecuteSingleWorker(t *testing.T) {
	byName, list := runnersFor("inventory")
	c := New(list, 0, nil)

	exec := c.Execute(context.Background(), workflow.SingleWorker("inventory"), snapshot())

	require.Len(t, exec.Results, 1)
	assert.Equal(t, domain.StepOK, exec.Results[0].Status)
	assert.False(t, exec.Degraded)
	assert.False(t, exec.Truncated)
	assert.Equal(t, 1, byName["inventory"].calls["inventory"])
	assert.Equal(t, "SKU-42", byName["inventory"].inputs["inventory"]["sku"])
}

func TestExecuteSeesOnlyDeclaredDependencies(t *testing.T) {
	def, ok := workflow.DefaultRegistry().Get(workflow.PurchaseJourney)
	require.True(t, ok)

	byName, list := runnersFor("recommend", "inventory", "order")
	c := New(list, 2, nil)

	exec := c.Execute(context.Background(), workflow.WorkflowRoute(def), snapshot())
	require.Len(t, exec.Results, len(def.Steps))
	for i, st := range def.Steps {
		assert.Equal(t, st.Name, exec.Results[i].Step, "results keep declared order")
		assert.Equal(t, domain.StepOK, exec.Results[i].Status)
	}

	inv := byName["inventory"].inputs[def.Steps[1].Name]
	assert.Contains(t, inv, def.Steps[0].OutputKey())
	assert.NotContains(t, inv, def.Steps[2].OutputKey())

	ord := byName["order"].inputs[def.Steps[2].Name]
	assert.Contains(t, ord, def.Steps[1].OutputKey())
	assert.NotContains(t, ord, def.Steps[0].OutputKey(), "transitive outputs are not visible")
	assert.Equal(t, "SKU-42", ord["sku"])
}

func diamond(t *testing.T) workflow.Definition {
	t.Helper()
	def := workflow.Definition{
		Name: "diamond",
		Steps: []workflow.Step{
			{Name: "a", Worker: "recommend"},
			{Name: "b", Worker: "forecast"},
			{Name: "c", Worker: "inventory", DependsOn: []string{"a"}},
			{Name: "d", Worker: "order", DependsOn: []string{"c", "b"}},
		},
	}
	require.NoError(t, def.Validate())
	return def
}

func TestExecuteSkipsDependentsOfFailedStep(t *testing.T) {
	byName, list := runnersFor("recommend", "forecast", "inventory", "order")
	byName["recommend"].fail["a"] = true
	c := New(list, 4, nil)

	exec := c.Execute(context.Background(), workflow.WorkflowRoute(diamond(t)), snapshot())

	status := map[string]domain.StepResult{}
	for _, r := range exec.Results {
		status[r.Step] = r
	}
	assert.Equal(t, domain.StepFailed, status["a"].Status)
	assert.Equal(t, domain.StepOK, status["b"].Status, "independent branch continues")
	assert.Equal(t, domain.ErrorSkipped, status["c"].ErrorKind)
	assert.Equal(t, domain.ErrorSkipped, status["d"].ErrorKind, "transitive dependents are skipped")
	assert.Zero(t, byName["inventory"].calls["c"])
	assert.Zero(t, byName["order"].calls["d"])
	assert.True(t, exec.Degraded)
}

func TestExecuteDispatchesEachStepOnce(t *testing.T) {
	byName, list := runnersFor("recommend", "forecast", "inventory", "order")
	c := New(list, 4, nil)

	exec := c.Execute(context.Background(), workflow.WorkflowRoute(diamond(t)), snapshot())
	require.Len(t, exec.Results, 4)

	total := 0
	for _, r := range byName {
		for step, n := range r.calls {
			assert.Equal(t, 1, n, "step %s", step)
			total += n
		}
	}
	assert.Equal(t, 4, total)
}

func TestExecuteBoundsFanOut(t *testing.T) {
	def := workflow.Definition{
		Name: "wide",
		Steps: []workflow.Step{
			{Name: "s1", Worker: "chat"},
			{Name: "s2", Worker: "chat"},
			{Name: "s3", Worker: "chat"},
			{Name: "s4", Worker: "chat"},
			{Name: "s5", Worker: "chat"},
		},
	}
	require.NoError(t, def.Validate())

	byName, list := runnersFor("chat")
	byName["chat"].delay = 20 * time.Millisecond
	c := New(list, 2, nil)

	exec := c.Execute(context.Background(), workflow.WorkflowRoute(def), snapshot())
	require.Len(t, exec.Results, 5)
	assert.LessOrEqual(t, byName["chat"].peak.Load(), int32(2))
	assert.GreaterOrEqual(t, byName["chat"].peak.Load(), int32(1))
}

func TestExecuteStopsNewWavesAfterDeadline(t *testing.T) {
	def, ok := workflow.DefaultRegistry().Get(workflow.PurchaseJourney)
	require.True(t, ok)

	byName, list := runnersFor("recommend", "inventory", "order")
	byName["recommend"].delay = 60 * time.Millisecond
	c := New(list, 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	exec := c.Execute(ctx, workflow.WorkflowRoute(def), snapshot())

	assert.True(t, exec.Truncated)
	assert.True(t, exec.Degraded)
	assert.Equal(t, domain.StepOK, exec.Results[0].Status, "in-flight call completes")
	assert.Equal(t, domain.ErrorDeadline, exec.Results[1].ErrorKind)
	assert.Equal(t, domain.ErrorDeadline, exec.Results[2].ErrorKind)
	assert.Zero(t, byName["inventory"].calls[def.Steps[1].Name])

	require.Len(t, byName["recommend"].ctxErrs, 1)
	assert.NoError(t, byName["recommend"].ctxErrs[0], "dispatched calls are not cancelled by the turn deadline")
}

func TestExecuteUnknownWorker(t *testing.T) {
	c := New(nil, 1, nil)
	exec := c.Execute(context.Background(), workflow.SingleWorker("logistics"), snapshot())

	require.Len(t, exec.Results, 1)
	assert.Equal(t, domain.StepFailed, exec.Results[0].Status)
	assert.Equal(t, domain.ErrorPermanent, exec.Results[0].ErrorKind)
}
