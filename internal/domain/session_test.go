package domain

import (
	"testing"
	"time"
)

func TestSessionCloneIsIndependent(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	s := NewSession("sess-1", now)
	s.MergeEntities(map[string]string{"sku": "SKU-42"})
	s.AppendTurn(Turn{Seq: 1, Message: "hi", Timestamp: now.Add(time.Second), Steps: []StepResult{{Step: "chat", Status: StepOK}}})

	c := s.Clone()
	c.Entities["sku"] = "SKU-7"
	c.Turns[0].Steps[0].Status = StepFailed
	c.AppendTurn(Turn{Seq: 2, Timestamp: now.Add(2 * time.Second)})

	if s.Entities["sku"] != "SKU-42" {
		t.Fatalf("clone mutated entities: %q", s.Entities["sku"])
	}
	if s.Turns[0].Steps[0].Status != StepOK {
		t.Fatalf("clone mutated step results")
	}
	if len(s.Turns) != 1 {
		t.Fatalf("clone mutated turns: %d", len(s.Turns))
	}
}

func TestSessionRecentTurnsAndActivity(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	s := NewSession("sess-1", now)
	for i := 1; i <= 4; i++ {
		s.AppendTurn(Turn{Seq: i, Timestamp: now.Add(time.Duration(i) * time.Minute)})
	}

	recent := s.RecentTurns(2)
	if len(recent) != 2 || recent[0].Seq != 3 || recent[1].Seq != 4 {
		t.Fatalf("unexpected recent turns: %+v", recent)
	}
	if got := s.NextSeq(); got != 5 {
		t.Fatalf("NextSeq = %d, want 5", got)
	}
	if got := s.IdleFor(now.Add(10 * time.Minute)); got != 6*time.Minute {
		t.Fatalf("IdleFor = %v, want 6m", got)
	}
}

func TestMergeEntitiesSkipsEmptyValues(t *testing.T) {
	t.Parallel()

	s := NewSession("sess-1", time.Now())
	s.MergeEntities(map[string]string{"email": "a@b.co"})
	s.MergeEntities(map[string]string{"email": "", "sku": "SKU-1"})

	if s.Entities["email"] != "a@b.co" {
		t.Fatalf("empty value overwrote entity: %q", s.Entities["email"])
	}
	if s.Entities["sku"] != "SKU-1" {
		t.Fatalf("expected sku to be merged")
	}
}

func TestIntentPriority(t *testing.T) {
	t.Parallel()

	if !IntentOrder.Valid() || IntentAmbiguous.Valid() {
		t.Fatal("unexpected Valid results")
	}
	if IntentOrder.Rank() >= IntentChat.Rank() {
		t.Fatal("order must outrank chat")
	}
}
