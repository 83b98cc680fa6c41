package intent

import (
	"regexp"
	"strings"
)

// Entity keys produced by ExtractEntities.
const (
	EntitySKU            = "sku"
	EntityEmail          = "email"
	EntityQuantity       = "quantity"
	EntityOrderID        = "order_id"
	EntityTrackingNumber = "tracking_number"
	EntityColor          = "color"
)

var (
	productCodePattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]*(?:-[A-Z0-9]+)+\b`)
	looseSKUPattern    = regexp.MustCompile(`(?i)\bsku[-\s#]?(\d+)\b`)
	emailPattern       = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	quantityPattern    = regexp.MustCompile(`(?i)\b(?:qty\s*:?\s*|x)?(\d{1,4})\b`)

	colors = []string{"red", "blue", "green", "black", "white", "yellow", "pink", "purple", "orange", "grey", "gray", "brown", "navy"}
)

// ExtractEntities pulls structured values out of a message. Only the first
// value of each kind is kept.
func ExtractEntities(text string) map[string]string {
	out := make(map[string]string)
	rest := text

	for _, code := range productCodePattern.FindAllString(text, -1) {
		key := EntitySKU
		switch {
		case strings.HasPrefix(code, "ORD-"):
			key = EntityOrderID
		case strings.HasPrefix(code, "TRK-"):
			key = EntityTrackingNumber
		}
		if _, seen := out[key]; !seen {
			out[key] = code
		}
		rest = strings.Replace(rest, code, " ", 1)
	}
	if _, ok := out[EntitySKU]; !ok {
		if m := looseSKUPattern.FindStringSubmatch(rest); m != nil {
			out[EntitySKU] = "SKU-" + m[1]
			rest = strings.Replace(rest, m[0], " ", 1)
		}
	}

	if email := emailPattern.FindString(rest); email != "" {
		out[EntityEmail] = email
		rest = strings.Replace(rest, email, " ", 1)
	}

	if m := quantityPattern.FindStringSubmatch(rest); m != nil {
		out[EntityQuantity] = m[1]
	}

	tokens := tokenize(text)
	for _, c := range colors {
		if hasPhrase(tokens, []string{c}) {
			out[EntityColor] = c
			break
		}
	}
	return out
}
