// Package audit writes an append-only NDJSON record of every conversation
// turn, one file per session, off the request path.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// Config controls conversation logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one logged record.
type Event struct {
	Timestamp  time.Time           `json:"ts"`
	SessionID  string              `json:"session_id"`
	TurnSeq    int                 `json:"turn"`
	Channel    string              `json:"channel"`
	Direction  string              `json:"direction"`
	EventType  string              `json:"event_type"`
	ContentRaw string              `json:"content_raw,omitempty"`
	Content    string              `json:"content,omitempty"`
	Intent     domain.Intent       `json:"intent,omitempty"`
	Confidence float64             `json:"confidence,omitempty"`
	Route      string              `json:"route,omitempty"`
	Status     string              `json:"status,omitempty"`
	Steps      []domain.StepResult `json:"steps,omitempty"`
}

// Directions and event types.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	EventUserMessage  = "user_message"
	EventReply        = "assistant_reply"
	EventSessionReset = "session_reset"
)

// Logger records conversation events.
type Logger interface {
	Log(Event)
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Log(Event) {}

func (Noop) Close() error { return nil }

// FileLogger appends events to <Dir>/<session>.ndjson from a background
// goroutine. Events are dropped with a warning when the queue is full.
type FileLogger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}
	once   sync.Once
	global *os.File

	mu     sync.RWMutex
	closed bool
}

// New returns a FileLogger, or Noop when logging is disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &FileLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	go l.run()
	return l, nil
}

// Log enqueues ev without blocking.
func (l *FileLogger) Log(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.ContentRaw != "" && ev.Content == "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"session_id", ev.SessionID,
			"event_type", ev.EventType)
	}
}

// Close drains the queue and closes open files.
func (l *FileLogger) Close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
		<-l.done
		if l.global != nil {
			err = l.global.Close()
		}
	})
	return err
}

func (l *FileLogger) run() {
	defer close(l.done)
	for ev := range l.queue {
		line, err := json.Marshal(ev)
		if err != nil {
			l.logger.Warn("Failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := l.appendSession(ev.SessionID, line); err != nil {
			l.logger.Warn("Failed to write conversation log",
				"session_id", ev.SessionID,
				"error", err)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("Failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *FileLogger) appendSession(sessionID string, line []byte) error {
	path := filepath.Join(l.cfg.Dir, safeFileName(sessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safeFileName(id string) string {
	name := unsafeName.ReplaceAllString(id, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "unknown"
	}
	return name
}

var (
	ansiSeq  = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	controls = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)
)

func cleanForReadability(raw string) string {
	s := ansiSeq.ReplaceAllString(raw, "")
	s = controls.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
