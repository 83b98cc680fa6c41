package domain

// Intent is the classifier's label for what the user wants.
type Intent string

// Known intents. IntentAmbiguous is synthetic: it is produced when the
// classifier is not confident enough and is never a worker name.
const (
	IntentChat      Intent = "chat"
	IntentInventory Intent = "inventory"
	IntentRecommend Intent = "recommend"
	IntentOrder     Intent = "order"
	IntentLogistics Intent = "logistics"
	IntentForecast  Intent = "forecast"
	IntentAmbiguous Intent = "ambiguous"
)

// IntentPriority is the fixed total order used to break score ties.
// Earlier entries win.
var IntentPriority = []Intent{
	IntentOrder,
	IntentInventory,
	IntentLogistics,
	IntentRecommend,
	IntentForecast,
	IntentChat,
}

// Valid reports whether i is one of the worker-backed intents.
func (i Intent) Valid() bool {
	for _, p := range IntentPriority {
		if p == i {
			return true
		}
	}
	return false
}

// Rank returns the position of i in IntentPriority, or len(IntentPriority)
// for unknown intents.
func (i Intent) Rank() int {
	for n, p := range IntentPriority {
		if p == i {
			return n
		}
	}
	return len(IntentPriority)
}

// String implements fmt.Stringer.
func (i Intent) String() string { return string(i) }
