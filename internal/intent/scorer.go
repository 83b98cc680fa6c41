package intent

import (
	"strings"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// Scorer assigns a raw score to each intent for a piece of text. Intents
// with no signal are left out of the map.
type Scorer interface {
	Score(text string) map[domain.Intent]float64
}

// Lexicon is the keyword set for one intent.
type Lexicon struct {
	Primary   []string
	Secondary []string
	Context   []string
	Weight    float64
}

const (
	primaryHit     = 3.0
	primaryPartial = 2.0
	secondaryHit   = 2.0
	secondaryPart  = 1.0
	contextHit     = 1.0

	shortQueryLen     = 5
	shortQueryPenalty = 0.8
	primaryBoost      = 1.2
)

// DefaultLexicons is the built-in keyword table.
var DefaultLexicons = map[domain.Intent]Lexicon{
	domain.IntentChat: {
		Primary:   []string{"hello", "hi", "hey", "what is my", "my name", "who am i"},
		Secondary: []string{"greet", "conversation", "talk", "tell me about", "remember", "thanks", "thank you"},
		Context:   []string{"name", "email", "preferences", "context", "memory"},
		Weight:    1.0,
	},
	domain.IntentInventory: {
		Primary:   []string{"stock", "inventory", "available", "in stock", "quantity"},
		Secondary: []string{"how many", "units", "left", "remaining", "supply"},
		Context:   []string{"check", "show", "tell me", "display"},
		Weight:    1.0,
	},
	domain.IntentRecommend: {
		Primary:   []string{"recommend", "suggest", "find", "looking for", "need"},
		Secondary: []string{"want", "show me", "similar", "like", "best", "good"},
		Context:   []string{"help me", "what", "which", "any"},
		Weight:    1.0,
	},
	domain.IntentOrder: {
		Primary:   []string{"order", "buy", "purchase", "place order", "checkout"},
		Secondary: []string{"cart", "add to cart", "get", "take"},
		Context:   []string{"sku", "product", "item"},
		Weight:    1.2,
	},
	domain.IntentLogistics: {
		Primary:   []string{"track", "shipping", "delivery", "shipment"},
		Secondary: []string{"where is", "when will", "arrive", "status"},
		Context:   []string{"my order", "package", "tracking"},
		Weight:    1.1,
	},
	domain.IntentForecast: {
		Primary:   []string{"forecast", "predict", "future", "trend"},
		Secondary: []string{"projection", "demand", "sales", "analytics"},
		Context:   []string{"what will", "expected", "anticipated"},
		Weight:    0.9,
	},
}

// KeywordScorer scores text by weighted keyword hits.
type KeywordScorer struct {
	lexicons map[domain.Intent]compiledLexicon
}

type compiledLexicon struct {
	primary   [][]string
	secondary [][]string
	context   [][]string
	weight    float64
}

// NewKeywordScorer builds a scorer from lexicons; nil selects DefaultLexicons.
func NewKeywordScorer(lexicons map[domain.Intent]Lexicon) *KeywordScorer {
	if lexicons == nil {
		lexicons = DefaultLexicons
	}
	k := &KeywordScorer{lexicons: make(map[domain.Intent]compiledLexicon, len(lexicons))}
	for in, lex := range lexicons {
		w := lex.Weight
		if w == 0 {
			w = 1
		}
		k.lexicons[in] = compiledLexicon{
			primary:   compile(lex.Primary),
			secondary: compile(lex.Secondary),
			context:   compile(lex.Context),
			weight:    w,
		}
	}
	return k
}

func compile(words []string) [][]string {
	out := make([][]string, 0, len(words))
	for _, w := range words {
		if toks := tokenize(w); len(toks) > 0 {
			out = append(out, toks)
		}
	}
	return out
}

// Score implements Scorer.
func (k *KeywordScorer) Score(text string) map[domain.Intent]float64 {
	tokens := tokenize(text)
	short := len(strings.TrimSpace(text)) < shortQueryLen
	scores := make(map[domain.Intent]float64)

	for _, in := range domain.IntentPriority {
		lex, ok := k.lexicons[in]
		if !ok {
			continue
		}

		var score float64
		primaryFound := false
		for _, kw := range lex.primary {
			switch {
			case hasPhrase(tokens, kw):
				score += primaryHit
				primaryFound = true
			case len(kw) == 1 && hasPrefixWord(tokens, kw[0]):
				score += primaryPartial
			}
		}
		for _, kw := range lex.secondary {
			switch {
			case hasPhrase(tokens, kw):
				score += secondaryHit
			case len(kw) == 1 && hasPrefixWord(tokens, kw[0]):
				score += secondaryPart
			}
		}
		for _, kw := range lex.context {
			if hasPhrase(tokens, kw) {
				score += contextHit
			}
		}

		score *= lex.weight
		if short {
			score *= shortQueryPenalty
		}
		if primaryFound {
			score *= primaryBoost
		}
		if score > 0 {
			scores[in] = score
		}
	}
	return scores
}
