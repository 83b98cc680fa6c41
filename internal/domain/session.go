// Package domain holds the data model shared by the orchestration packages.
package domain

import (
	"maps"
	"time"
)

// Turn is one user message plus the system's handling of it.
// Turns are immutable once appended to a session.
type Turn struct {
	Seq        int           `json:"seq"`
	Message    string        `json:"message"`
	Timestamp  time.Time     `json:"timestamp"`
	Intent     Intent        `json:"intent"`
	Confidence float64       `json:"confidence"`
	RouteKind  string        `json:"route_kind"`
	Route      string        `json:"route"`
	Response   string        `json:"response"`
	Status     OverallStatus `json:"status"`
	Steps      []StepResult  `json:"steps,omitempty"`
}

// Session holds the state of one conversation.
type Session struct {
	ID           string
	Turns        []Turn
	Entities     map[string]string
	CreatedAt    time.Time
	LastActivity time.Time
}

// NewSession returns an empty session created at now.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Entities:     make(map[string]string),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// NextSeq returns the sequence number the next appended turn will carry.
func (s *Session) NextSeq() int {
	return len(s.Turns) + 1
}

// AppendTurn records a turn and bumps the activity timestamp.
func (s *Session) AppendTurn(t Turn) {
	s.Turns = append(s.Turns, t)
	if t.Timestamp.After(s.LastActivity) {
		s.LastActivity = t.Timestamp
	}
}

// RecentTurns returns the last n turns, oldest first.
func (s *Session) RecentTurns(n int) []Turn {
	if n <= 0 {
		return nil
	}
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// LastTurn returns the most recent turn, if any.
func (s *Session) LastTurn() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// MergeEntities overwrites session entities with the non-empty values in src.
func (s *Session) MergeEntities(src map[string]string) {
	if len(src) == 0 {
		return
	}
	if s.Entities == nil {
		s.Entities = make(map[string]string, len(src))
	}
	for k, v := range src {
		if k == "" || v == "" {
			continue
		}
		s.Entities[k] = v
	}
}

// IdleFor reports how long the session has been inactive at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// Clone returns a deep copy safe to mutate independently.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		ID:           s.ID,
		Entities:     maps.Clone(s.Entities),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
	}
	if out.Entities == nil {
		out.Entities = make(map[string]string)
	}
	if len(s.Turns) > 0 {
		out.Turns = make([]Turn, len(s.Turns))
		for i, t := range s.Turns {
			out.Turns[i] = t.clone()
		}
	}
	return out
}

func (t Turn) clone() Turn {
	if len(t.Steps) > 0 {
		steps := make([]StepResult, len(t.Steps))
		copy(steps, t.Steps)
		t.Steps = steps
	}
	return t
}
