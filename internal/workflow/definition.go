// Package workflow defines named multi-step workflows, validates their
// dependency graphs, and selects a route for a classified message.
package workflow

import (
	"errors"
	"fmt"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// ErrCycleDetected indicates a circular dependency between workflow steps.
var ErrCycleDetected = errors.New("circular dependency detected")

// Step is one node of a workflow DAG.
type Step struct {
	Name      string   `yaml:"name" json:"name"`
	Worker    string   `yaml:"worker" json:"worker"`
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	// Output names the key under which dependents see this step's output.
	// It defaults to the step name.
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// OutputKey returns the key dependents use to read this step's output.
func (s Step) OutputKey() string {
	if s.Output != "" {
		return s.Output
	}
	return s.Name
}

// Trigger selects a workflow for a classified message. All set conditions
// must hold: the intent is listed, any keyword appears, every required
// entity is present and no excluded entity is.
type Trigger struct {
	Intents         []domain.Intent `yaml:"intents" json:"intents"`
	Keywords        []string        `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	RequireEntities []string        `yaml:"require_entities,omitempty" json:"require_entities,omitempty"`
	ExcludeEntities []string        `yaml:"exclude_entities,omitempty" json:"exclude_entities,omitempty"`
}

// Definition is a named DAG of steps.
type Definition struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step    `yaml:"steps" json:"steps"`
	Triggers    []Trigger `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// Validate checks the definition is executable: unique step names, known
// workers and dependencies, and no cycles.
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("workflow name cannot be empty")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", d.Name)
	}

	index := make(map[string]int, len(d.Steps))
	for i, s := range d.Steps {
		if s.Name == "" {
			return fmt.Errorf("workflow %s: step %d has no name", d.Name, i)
		}
		if _, dup := index[s.Name]; dup {
			return fmt.Errorf("workflow %s: duplicate step %s", d.Name, s.Name)
		}
		if !domain.Intent(s.Worker).Valid() {
			return fmt.Errorf("workflow %s: step %s uses unknown worker %q", d.Name, s.Name, s.Worker)
		}
		index[s.Name] = i
	}

	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			if dep == s.Name {
				return fmt.Errorf("workflow %s: step %s depends on itself: %w", d.Name, s.Name, ErrCycleDetected)
			}
			if _, ok := index[dep]; !ok {
				return fmt.Errorf("workflow %s: step %s depends on unknown step %s", d.Name, s.Name, dep)
			}
		}
	}

	for _, tr := range d.Triggers {
		for _, in := range tr.Intents {
			if !in.Valid() {
				return fmt.Errorf("workflow %s: trigger uses unknown intent %q", d.Name, in)
			}
		}
	}

	if d.hasCycle(index) {
		return fmt.Errorf("workflow %s: %w", d.Name, ErrCycleDetected)
	}
	return nil
}

// hasCycle runs a depth-first search with white/gray/black colouring.
func (d Definition) hasCycle(index map[string]int) bool {
	colors := make([]int, len(d.Steps))

	var visit func(i int) bool
	visit = func(i int) bool {
		colors[i] = 1
		for _, dep := range d.Steps[i].DependsOn {
			j := index[dep]
			switch colors[j] {
			case 1:
				return true
			case 0:
				if visit(j) {
					return true
				}
			}
		}
		colors[i] = 2
		return false
	}

	for i := range d.Steps {
		if colors[i] == 0 && visit(i) {
			return true
		}
	}
	return false
}

// Waves partitions the steps into batches that can run concurrently: every
// step lands one wave after its deepest dependency. Steps keep their
// declared order inside a wave. The definition must be valid.
func (d Definition) Waves() [][]Step {
	level := make(map[string]int, len(d.Steps))
	byName := make(map[string]Step, len(d.Steps))
	for _, s := range d.Steps {
		byName[s.Name] = s
	}

	var depth func(name string) int
	depth = func(name string) int {
		if l, ok := level[name]; ok {
			return l
		}
		l := 0
		for _, dep := range byName[name].DependsOn {
			if dl := depth(dep) + 1; dl > l {
				l = dl
			}
		}
		level[name] = l
		return l
	}

	var waves [][]Step
	for _, s := range d.Steps {
		l := depth(s.Name)
		for len(waves) <= l {
			waves = append(waves, nil)
		}
		waves[l] = append(waves[l], s)
	}
	return waves
}

// Workers returns the distinct workers used by the definition in step order.
func (d Definition) Workers() []string {
	seen := make(map[string]bool, len(d.Steps))
	var out []string
	for _, s := range d.Steps {
		if !seen[s.Worker] {
			seen[s.Worker] = true
			out = append(out, s.Worker)
		}
	}
	return out
}

// Step returns the step with the given name.
func (d Definition) Step(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}
