package workflow

import (
	"fmt"
	"sync"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// Registry holds validated workflow definitions in registration order.
type Registry struct {
	mu    sync.RWMutex
	defs  []Definition
	index map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register validates def and adds it. Invalid definitions and duplicate
// names are rejected, so configuration mistakes surface at startup.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.index[def.Name]; dup {
		return fmt.Errorf("workflow %s already registered", def.Name)
	}
	r.index[def.Name] = len(r.defs)
	r.defs = append(r.defs, def)
	return nil
}

// Put validates def and registers it, replacing an existing definition of
// the same name in place.
func (r *Registry) Put(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[def.Name]; ok {
		r.defs[i] = def
		return nil
	}
	r.index[def.Name] = len(r.defs)
	r.defs = append(r.defs, def)
	return nil
}

// MustRegister is Register that panics on error. It is meant for built-in
// definitions.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns the definition named name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Built-in workflow names.
const (
	ProductDiscovery = "product_discovery"
	PurchaseJourney  = "purchase_journey"
	Fulfillment      = "fulfillment"
	DemandPlanning   = "demand_planning"
)

// DefaultDefinitions returns the built-in workflows.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:        PurchaseJourney,
			Description: "Find a product, confirm availability, then place the order.",
			Steps: []Step{
				{Name: "recommend", Worker: "recommend", Output: "candidates"},
				{Name: "inventory", Worker: "inventory", DependsOn: []string{"recommend"}, Output: "availability"},
				{Name: "order", Worker: "order", DependsOn: []string{"inventory"}},
			},
			Triggers: []Trigger{{
				Intents:         []domain.Intent{domain.IntentOrder},
				Keywords:        []string{"buy", "purchase", "want to order", "get me"},
				ExcludeEntities: []string{"sku"},
			}},
		},
		{
			Name:        ProductDiscovery,
			Description: "Recommend products and check they are in stock.",
			Steps: []Step{
				{Name: "recommend", Worker: "recommend", Output: "candidates"},
				{Name: "inventory", Worker: "inventory", DependsOn: []string{"recommend"}, Output: "availability"},
			},
			Triggers: []Trigger{
				{
					Intents:  []domain.Intent{domain.IntentRecommend},
					Keywords: []string{"in stock", "available", "availability"},
				},
				{
					Intents:  []domain.Intent{domain.IntentInventory},
					Keywords: []string{"recommend", "suggest", "find", "looking for"},
				},
			},
		},
		{
			Name:        Fulfillment,
			Description: "Place an order and arrange its shipment.",
			Steps: []Step{
				{Name: "order", Worker: "order"},
				{Name: "logistics", Worker: "logistics", DependsOn: []string{"order"}, Output: "shipment"},
			},
			Triggers: []Trigger{{
				Intents:  []domain.Intent{domain.IntentOrder},
				Keywords: []string{"ship", "shipping", "deliver", "delivery", "track", "tracking"},
			}},
		},
		{
			Name:        DemandPlanning,
			Description: "Forecast demand, compare with stock and raise a replenishment order.",
			Steps: []Step{
				{Name: "forecast", Worker: "forecast"},
				{Name: "inventory", Worker: "inventory", DependsOn: []string{"forecast"}, Output: "availability"},
				{Name: "order", Worker: "order", DependsOn: []string{"inventory"}, Output: "replenishment"},
			},
			Triggers: []Trigger{
				{
					Intents:  []domain.Intent{domain.IntentForecast},
					Keywords: []string{"restock", "reorder", "replenish", "replenishment"},
				},
				{
					Intents:  []domain.Intent{domain.IntentInventory},
					Keywords: []string{"forecast", "predict", "projected demand"},
				},
			},
		},
	}
}

// DefaultRegistry returns a registry holding the built-in workflows.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range DefaultDefinitions() {
		r.MustRegister(def)
	}
	return r
}
