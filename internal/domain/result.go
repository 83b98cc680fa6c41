package domain

import "time"

// StepStatus is the outcome of a single worker invocation.
type StepStatus string

const (
	StepOK       StepStatus = "ok"
	StepDegraded StepStatus = "degraded"
	StepFailed   StepStatus = "failed"
)

// ErrorKind explains why a step failed.
type ErrorKind string

const (
	ErrorTransient ErrorKind = "transient"
	ErrorPermanent ErrorKind = "permanent"
	// ErrorSkipped marks a step that was never invoked because a dependency failed.
	ErrorSkipped ErrorKind = "skipped"
	// ErrorDeadline marks a step that was never started because the turn deadline passed.
	ErrorDeadline ErrorKind = "deadline"
)

// OverallStatus summarizes a synthesized response.
type OverallStatus string

const (
	StatusOK       OverallStatus = "ok"
	StatusDegraded OverallStatus = "degraded"
	StatusFailed   OverallStatus = "failed"
)

// Item is one structured record returned to the caller, usually a product.
type Item struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category,omitempty"`
}

// Output is what a worker returns for one call.
type Output struct {
	Message string         `json:"message,omitempty"`
	Items   []Item         `json:"items,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	// Entities are values the worker wants the session to remember,
	// e.g. an order id for later tracking.
	Entities map[string]string `json:"entities,omitempty"`
	Degraded bool              `json:"degraded,omitempty"`
	Note     string            `json:"note,omitempty"`
}

// StepResult is the outcome of one workflow step.
// Output is set iff Status is ok or degraded; Error is set iff Status is
// failed or degraded.
type StepResult struct {
	Step      string        `json:"step"`
	Worker    string        `json:"worker"`
	Status    StepStatus    `json:"status"`
	Output    *Output       `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
}

// Succeeded reports whether the step produced usable output.
func (r StepResult) Succeeded() bool {
	return r.Status == StepOK || r.Status == StepDegraded
}

// StepNote is the caller-facing view of a step: status and a human-readable
// note, never raw error text.
type StepNote struct {
	Step   string     `json:"step"`
	Worker string     `json:"worker"`
	Status StepStatus `json:"status"`
	Note   string     `json:"note,omitempty"`
}

// Response is the merged reply for one turn.
type Response struct {
	Message      string        `json:"message"`
	Items        []Item        `json:"items,omitempty"`
	Contributors []string      `json:"contributors"`
	Status       OverallStatus `json:"status"`
	Steps        []StepNote    `json:"steps"`
}
