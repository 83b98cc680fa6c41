package workflow

import (
	"slices"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
	"github.com/MedGAN-AI/price-pilot/internal/intent"
)

// RouteKind distinguishes single-worker routes from workflows.
type RouteKind string

const (
	RouteSingle   RouteKind = "single"
	RouteWorkflow RouteKind = "workflow"
)

// Route is the routing decision for one turn.
type Route struct {
	Kind RouteKind
	// Name is the worker name for single routes and the workflow name otherwise.
	Name     string
	Workflow *Definition
}

// SingleWorker returns a route that calls worker once.
func SingleWorker(worker string) Route {
	return Route{Kind: RouteSingle, Name: worker}
}

// WorkflowRoute returns a route that runs def.
func WorkflowRoute(def Definition) Route {
	return Route{Kind: RouteWorkflow, Name: def.Name, Workflow: &def}
}

// Steps returns the steps the route executes in declared order.
func (r Route) Steps() []Step {
	if r.Kind == RouteWorkflow && r.Workflow != nil {
		return r.Workflow.Steps
	}
	return []Step{{Name: r.Name, Worker: r.Name}}
}

// Waves returns the execution waves for the route.
func (r Route) Waves() [][]Step {
	if r.Kind == RouteWorkflow && r.Workflow != nil {
		return r.Workflow.Waves()
	}
	return [][]Step{r.Steps()}
}

// Router applies the routing policy. It is deterministic: the same
// classification and text always yield the same route.
type Router struct {
	registry *Registry
}

// NewRouter creates a router over reg.
func NewRouter(reg *Registry) *Router {
	return &Router{registry: reg}
}

// DefaultWorker returns the single worker that serves in.
// Ambiguous and unknown intents fall back to chat.
func DefaultWorker(in domain.Intent) string {
	if !in.Valid() {
		return string(domain.IntentChat)
	}
	return string(in)
}

// Select picks the route for a classified message. Ambiguous messages go
// to chat. Otherwise the first registered workflow whose trigger matches
// wins; compound requests fall back to the first workflow covering every
// strongly scored intent; anything else goes to the intent's worker.
func (r *Router) Select(res intent.Result, text string) Route {
	if res.Intent == domain.IntentAmbiguous || !res.Intent.Valid() {
		return SingleWorker(string(domain.IntentChat))
	}

	defs := r.registry.List()
	for _, def := range defs {
		for _, tr := range def.Triggers {
			if triggerMatches(tr, res, text) {
				return WorkflowRoute(def)
			}
		}
	}

	if res.Compound {
		if strong := res.StrongIntents(); len(strong) >= 2 {
			for _, def := range defs {
				if covers(def, strong) {
					return WorkflowRoute(def)
				}
			}
		}
	}

	return SingleWorker(DefaultWorker(res.Intent))
}

func triggerMatches(tr Trigger, res intent.Result, text string) bool {
	if !slices.Contains(tr.Intents, res.Intent) {
		return false
	}
	for _, key := range tr.RequireEntities {
		if res.Entities[key] == "" {
			return false
		}
	}
	for _, key := range tr.ExcludeEntities {
		if res.Entities[key] != "" {
			return false
		}
	}
	if len(tr.Keywords) == 0 {
		return true
	}
	for _, kw := range tr.Keywords {
		if intent.ContainsPhrase(text, kw) {
			return true
		}
	}
	return false
}

func covers(def Definition, intents []domain.Intent) bool {
	workers := def.Workers()
	for _, in := range intents {
		if !slices.Contains(workers, string(in)) {
			return false
		}
	}
	return true
}
