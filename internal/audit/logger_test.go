package audit

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

func TestFileLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "all.ndjson")
	l, err := New(Config{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.Log(Event{
		SessionID:  "sess-1",
		TurnSeq:    1,
		Channel:    "chat_http",
		Direction:  DirectionInbound,
		EventType:  EventUserMessage,
		ContentRaw: "check stock for \x1b[1mSKU-42\x1b[0m",
	})
	l.Log(Event{
		SessionID: "sess-1",
		TurnSeq:   1,
		Direction: DirectionOutbound,
		EventType: EventReply,
		Intent:    domain.IntentInventory,
		Route:     "inventory",
		Status:    string(domain.StatusOK),
	})

	// Close drains the queue, so the files are complete afterwards.
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	l.Log(Event{SessionID: "sess-1"}) // after close: ignored

	lines := readLines(t, filepath.Join(dir, "sess-1.ndjson"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if first.Content != "check stock for SKU-42" {
		t.Fatalf("unexpected cleaned content: %q", first.Content)
	}
	if first.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}

	var second Event
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if second.Intent != domain.IntentInventory {
		t.Fatalf("unexpected intent: %q", second.Intent)
	}

	if got := readLines(t, global); len(got) != 2 {
		t.Fatalf("expected 2 lines in global log, got %d", len(got))
	}
}

func TestDisabledLoggerIsNoop(t *testing.T) {
	t.Parallel()

	l, err := New(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := l.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", l)
	}
	l.Log(Event{SessionID: "x"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestSafeFileName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"sess-1":      "sess-1",
		"../../etc":   "_.._etc",
		"a/b":         "a_b",
		"":            "unknown",
		"user:42.web": "user_42.web",
	}
	for in, want := range cases {
		if got := safeFileName(in); got != want {
			t.Errorf("safeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
