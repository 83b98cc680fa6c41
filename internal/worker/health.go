package worker

import (
	"sync"
	"time"
)

// Outcome labels the last call made through an adapter.
type Outcome string

const (
	OutcomeUnknown        Outcome = "unknown"
	OutcomeOK             Outcome = "ok"
	OutcomeDegraded       Outcome = "degraded"
	OutcomeTransientError Outcome = "transient_error"
	OutcomePermanentError Outcome = "permanent_error"
	OutcomeNotConfigured  Outcome = "not_configured"
)

// Status is the read-only health view of one worker.
type Status struct {
	Worker              string     `json:"worker"`
	Transport           string     `json:"transport"`
	Reachable           bool       `json:"reachable"`
	LastOutcome         Outcome    `json:"last_outcome"`
	LastCallAt          *time.Time `json:"last_call_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// health tracks the last call outcome of one worker.
type health struct {
	mu     sync.RWMutex
	status Status
}

func newHealth(name, transport string, configured bool) *health {
	st := Status{Worker: name, Transport: transport, Reachable: configured, LastOutcome: OutcomeUnknown}
	if !configured {
		st.LastOutcome = OutcomeNotConfigured
	}
	return &health{status: st}
}

func (h *health) record(outcome Outcome, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.status.LastOutcome = outcome
	h.status.LastCallAt = &at
	switch outcome {
	case OutcomeOK, OutcomeDegraded:
		h.status.Reachable = true
		h.status.LastSuccessAt = &at
		h.status.ConsecutiveFailures = 0
	case OutcomePermanentError:
		// The worker answered; it just refused the request.
		h.status.Reachable = true
		h.status.ConsecutiveFailures++
	default:
		h.status.Reachable = false
		h.status.ConsecutiveFailures++
	}
}

func (h *health) snapshot() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := h.status
	if st.LastCallAt != nil {
		t := *st.LastCallAt
		st.LastCallAt = &t
	}
	if st.LastSuccessAt != nil {
		t := *st.LastSuccessAt
		st.LastSuccessAt = &t
	}
	return st
}
