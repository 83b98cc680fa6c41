// Package intent maps a user message plus recent conversation context to an
// intent label and a confidence score.
package intent

import (
	"math"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// DefaultConfidenceFloor is the confidence below which a classification is
// reported as ambiguous.
const DefaultConfidenceFloor = 0.55

const (
	maxConfidence        = 0.95
	dominanceBoost       = 1.3
	noSignalConfidence   = 0.50
	explicitOrderConf    = 0.95
	memoryQueryConf      = 0.80
	continuationConf     = 0.80
	historyFallbackConf  = 0.60
	historyFallbackBelow = 0.40
	historyWindow        = 3
)

// Reasons recorded on a Result.
const (
	ReasonKeywords      = "keywords"
	ReasonNoSignal      = "no_signal"
	ReasonExplicitOrder = "explicit_order"
	ReasonMemoryQuery   = "memory_query"
	ReasonAffirmation   = "affirmation"
	ReasonContinuation  = "order_continuation"
	ReasonHistory       = "history_fallback"
	ReasonBelowFloor    = "below_floor"
)

var (
	memoryPhrases = []string{"my name", "what is my", "who am i", "remember", "my email", "my preferences"}

	affirmations = map[string]bool{
		"yes": true, "yes please": true, "yeah": true, "yep": true, "sure": true,
		"ok": true, "okay": true, "confirm": true, "confirmed": true, "go ahead": true,
		"do it": true, "proceed": true, "please do": true, "sounds good": true,
	}

	conjunctions = []string{"and", "then", "also", "plus"}
)

// Context is the slice of session state the classifier may consult.
type Context struct {
	RecentTurns []domain.Turn
	Entities    map[string]string
}

// Result is the outcome of one classification.
type Result struct {
	Intent     domain.Intent
	Confidence float64
	// Scores holds the raw per-intent scores from the Scorer.
	Scores map[domain.Intent]float64
	// Entities extracted from the message itself.
	Entities map[string]string
	// Compound is set when the message asks for several things at once.
	Compound bool
	Reason   string
}

// StrongIntents returns the non-chat intents scoring at least half of the
// best score, in priority order.
func (r Result) StrongIntents() []domain.Intent {
	var best float64
	for _, s := range r.Scores {
		best = math.Max(best, s)
	}
	if best == 0 {
		return nil
	}
	var out []domain.Intent
	for _, in := range domain.IntentPriority {
		if in == domain.IntentChat {
			continue
		}
		if r.Scores[in] >= best/2 {
			out = append(out, in)
		}
	}
	return out
}

// Classifier turns text into a Result. It is deterministic and safe for
// concurrent use.
type Classifier struct {
	scorer Scorer
	floor  float64
}

// NewClassifier creates a Classifier. A nil scorer selects the keyword
// scorer; a non-positive floor selects DefaultConfidenceFloor.
func NewClassifier(scorer Scorer, floor float64) *Classifier {
	if scorer == nil {
		scorer = NewKeywordScorer(nil)
	}
	if floor <= 0 {
		floor = DefaultConfidenceFloor
	}
	return &Classifier{scorer: scorer, floor: floor}
}

// Floor returns the configured confidence floor.
func (c *Classifier) Floor() float64 { return c.floor }

// Classify labels text. Recent turns resolve short follow-ups such as a bare
// "yes" after an order confirmation question.
func (c *Classifier) Classify(text string, cx Context) Result {
	entities := ExtractEntities(text)

	if entities[EntitySKU] != "" && entities[EntityEmail] != "" && entities[EntityQuantity] != "" {
		return Result{
			Intent:     domain.IntentOrder,
			Confidence: explicitOrderConf,
			Scores:     map[domain.Intent]float64{domain.IntentOrder: 10},
			Entities:   entities,
			Reason:     ReasonExplicitOrder,
		}
	}

	scores := c.scorer.Score(text)
	res := Result{Scores: scores, Entities: entities}
	res.Intent, res.Confidence = pick(scores)
	res.Reason = ReasonKeywords
	if len(scores) == 0 {
		res.Reason = ReasonNoSignal
	}
	res.Compound = isCompound(text, res)

	norm := normalize(text)
	last, hasLast := lastTurn(cx.RecentTurns)

	switch {
	case containsAny(text, memoryPhrases):
		res.Intent = domain.IntentChat
		res.Confidence = math.Max(res.Confidence, memoryQueryConf)
		res.Reason = ReasonMemoryQuery

	case hasLast && affirmations[norm] && last.Intent.Valid() && last.Intent != domain.IntentChat:
		res.Intent = last.Intent
		res.Confidence = continuationConf
		res.Reason = ReasonAffirmation

	case hasLast && last.Intent == domain.IntentOrder &&
		(entities[EntitySKU] != "" || entities[EntityEmail] != "") &&
		(len(scores) == 0 || res.Intent == domain.IntentOrder || res.Confidence < c.floor):
		res.Intent = domain.IntentOrder
		res.Confidence = math.Max(res.Confidence, continuationConf)
		res.Reason = ReasonContinuation

	case len(scores) == 0 || res.Confidence < historyFallbackBelow:
		if in, ok := dominantRecentIntent(cx.RecentTurns); ok {
			res.Intent = in
			res.Confidence = historyFallbackConf
			res.Reason = ReasonHistory
		}
	}

	if res.Confidence < c.floor {
		res.Intent = domain.IntentAmbiguous
		res.Reason = ReasonBelowFloor
	}
	return res
}

// pick returns the best-scoring intent, breaking ties by priority, and its
// normalized confidence.
func pick(scores map[domain.Intent]float64) (domain.Intent, float64) {
	if len(scores) == 0 {
		return domain.IntentChat, noSignalConfidence
	}

	best := domain.Intent("")
	var top, total float64
	for _, in := range domain.IntentPriority {
		s, ok := scores[in]
		if !ok {
			continue
		}
		total += s
		if best == "" || s > top {
			best, top = in, s
		}
	}

	conf := math.Min(top/(total+1), maxConfidence)
	if top > total-top {
		conf = math.Min(conf*dominanceBoost, maxConfidence)
	}
	return best, conf
}

func isCompound(text string, r Result) bool {
	if len(r.StrongIntents()) < 2 {
		return false
	}
	tokens := tokenize(text)
	for _, c := range conjunctions {
		if hasPhrase(tokens, []string{c}) {
			return true
		}
	}
	return false
}

func containsAny(text string, phrases []string) bool {
	tokens := tokenize(text)
	for _, p := range phrases {
		if hasPhrase(tokens, tokenize(p)) {
			return true
		}
	}
	return false
}

func lastTurn(turns []domain.Turn) (domain.Turn, bool) {
	if len(turns) == 0 {
		return domain.Turn{}, false
	}
	return turns[len(turns)-1], true
}

// dominantRecentIntent returns the most frequent worker-backed, non-chat
// intent among the last few turns.
func dominantRecentIntent(turns []domain.Turn) (domain.Intent, bool) {
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	counts := make(map[domain.Intent]int)
	for _, t := range turns {
		if t.Intent.Valid() && t.Intent != domain.IntentChat {
			counts[t.Intent]++
		}
	}

	best, bestCount := domain.Intent(""), 0
	for _, in := range domain.IntentPriority {
		if counts[in] > bestCount {
			best, bestCount = in, counts[in]
		}
	}
	return best, bestCount > 0
}
