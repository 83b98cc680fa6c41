// Package synth merges step results into the single reply of a turn.
package synth

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// Fallback messages used when no step produced output.
const (
	FallbackMessage      = "I'm sorry, I couldn't complete your request right now. Please try again in a moment."
	OrderFallbackMessage = "I'm sorry, I couldn't process your order right now. Please send the product SKU, quantity and your email address, and I'll try again."
	emptyReplyMessage    = "Your request has been processed."
)

// Each template falls back from Message to Items to Data so an ok step
// always contributes what it returned.
var defaultTemplates = map[string]string{
	"chat": `{{if .Message}}{{.Message}}{{else if .Items}}{{names .Items}}.{{else if .Data}}{{details .Data}}.{{end}}`,
	"inventory": `{{if .Message}}{{.Message}}{{else if .Items}}Stock levels: ` +
		`{{range $i, $it := .Items}}{{if $i}}, {{end}}{{$it.Name}}{{if $it.ID}} ({{$it.ID}}){{end}}{{end}}.` +
		`{{else if .Data}}Stock levels: {{details .Data}}.{{end}}`,
	"recommend": `{{if .Message}}{{.Message}}{{else if .Items}}Here {{if eq (len .Items) 1}}is a product{{else}}are {{len .Items}} products{{end}} you might like: ` +
		`{{names .Items}}.{{else if .Data}}Recommendations: {{details .Data}}.{{end}}`,
	"order":     `{{if .Message}}{{.Message}}{{else}}Your order has been placed.{{with .Data}} {{details .}}.{{end}}{{end}}`,
	"logistics": `{{if .Message}}{{.Message}}{{else}}Shipping has been arranged.{{with .Data}} {{details .}}.{{end}}{{end}}`,
	"forecast": `{{if .Message}}{{.Message}}{{else if .Data}}Demand forecast: {{details .Data}}.` +
		`{{else if .Items}}Demand forecast for {{names .Items}}.{{end}}`,
}

const defaultTemplate = `{{if .Message}}{{.Message}}{{else if .Items}}{{names .Items}}.{{else if .Data}}{{details .Data}}.{{end}}`

var funcs = template.FuncMap{
	"names":   itemNames,
	"details": formatData,
}

// itemNames lists item names, falling back to ids.
func itemNames(items []domain.Item) string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		name := it.Name
		if name == "" {
			name = it.ID
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

// formatData renders a payload as "key: value" pairs in key order.
func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, strings.ReplaceAll(k, "_", " ")+": "+fmt.Sprint(data[k]))
	}
	return strings.Join(pairs, ", ")
}

// actions describe what a worker does, used in failure fragments.
var actions = map[string]string{
	"chat":      "answer that",
	"inventory": "check stock levels",
	"recommend": "find product recommendations",
	"order":     "place the order",
	"logistics": "look up shipping details",
	"forecast":  "produce a demand forecast",
}

// view is the data a worker template renders.
type view struct {
	Step    string
	Worker  string
	Message string
	Items   []domain.Item
	Data    map[string]any
}

// Synthesizer renders step outputs through per-worker templates.
type Synthesizer struct {
	templates map[string]*template.Template
	fallback  *template.Template
}

// New returns a synthesizer with the built-in templates.
func New() *Synthesizer {
	s := &Synthesizer{
		templates: make(map[string]*template.Template, len(defaultTemplates)),
		fallback:  template.Must(template.New("default").Funcs(funcs).Parse(defaultTemplate)),
	}
	for w, text := range defaultTemplates {
		s.templates[w] = template.Must(template.New(w).Funcs(funcs).Parse(text))
	}
	return s
}

// SetTemplate replaces the template used for worker's output.
func (s *Synthesizer) SetTemplate(worker, text string) error {
	t, err := template.New(worker).Funcs(funcs).Parse(text)
	if err != nil {
		return fmt.Errorf("parse template for %s: %w", worker, err)
	}
	s.templates[worker] = t
	return nil
}

// Synthesize merges results, given in declared step order, into one
// response. The message is never empty.
func (s *Synthesizer) Synthesize(results []domain.StepResult) domain.Response {
	resp := domain.Response{
		Contributors: []string{},
		Steps:        make([]domain.StepNote, 0, len(results)),
	}

	var parts []string
	seenItem := map[string]bool{}
	seenWorker := map[string]bool{}
	succeeded, orderInvolved := 0, false

	for _, r := range results {
		if r.Worker == "order" {
			orderInvolved = true
		}
		note := domain.StepNote{Step: r.Step, Worker: r.Worker, Status: r.Status}

		switch r.Status {
		case domain.StepOK, domain.StepDegraded:
			succeeded++
			if !seenWorker[r.Worker] {
				seenWorker[r.Worker] = true
				resp.Contributors = append(resp.Contributors, r.Worker)
			}

			text := s.render(r)
			if r.Status == domain.StepDegraded {
				note.Note = degradedNote(r)
				text = joinSentences(text, note.Note)
			}
			if text != "" {
				parts = append(parts, text)
			}

			if r.Output != nil {
				for _, it := range r.Output.Items {
					if it.ID != "" && seenItem[it.ID] {
						continue
					}
					seenItem[it.ID] = true
					resp.Items = append(resp.Items, it)
				}
			}

		default:
			note.Status = domain.StepFailed
			note.Note = failureFragment(r)
			parts = append(parts, note.Note)
		}
		resp.Steps = append(resp.Steps, note)
	}

	switch {
	case succeeded == 0:
		resp.Status = domain.StatusFailed
		resp.Message = FallbackMessage
		if orderInvolved {
			resp.Message = OrderFallbackMessage
		}
		return resp
	case succeeded < len(results) || hasDegraded(results):
		resp.Status = domain.StatusDegraded
	default:
		resp.Status = domain.StatusOK
	}

	resp.Message = strings.Join(parts, "\n\n")
	if strings.TrimSpace(resp.Message) == "" {
		resp.Message = emptyReplyMessage
	}
	return resp
}

func (s *Synthesizer) render(r domain.StepResult) string {
	if r.Output == nil {
		return ""
	}
	v := view{
		Step:    r.Step,
		Worker:  r.Worker,
		Message: strings.TrimSpace(r.Output.Message),
		Items:   r.Output.Items,
		Data:    r.Output.Data,
	}

	t, ok := s.templates[r.Worker]
	if !ok {
		t = s.fallback
	}
	var b strings.Builder
	if err := t.Execute(&b, v); err != nil {
		return v.Message
	}
	return strings.TrimSpace(b.String())
}

func degradedNote(r domain.StepResult) string {
	if r.Output != nil && r.Output.Note != "" {
		return "Note: " + r.Output.Note
	}
	return "Note: some of this information may be incomplete."
}

func failureFragment(r domain.StepResult) string {
	action, ok := actions[r.Worker]
	if !ok {
		action = "complete the " + r.Step + " step"
	}
	switch r.ErrorKind {
	case domain.ErrorSkipped:
		return "I couldn't " + action + " because an earlier step did not succeed."
	case domain.ErrorDeadline:
		return "I ran out of time before I could " + action + "."
	default:
		return "I couldn't " + action + " right now."
	}
}

func joinSentences(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

func hasDegraded(results []domain.StepResult) bool {
	for _, r := range results {
		if r.Status == domain.StepDegraded {
			return true
		}
	}
	return false
}
