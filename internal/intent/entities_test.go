package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEntities(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]string
	}{
		{
			name: "product code is not a quantity",
			text: "check stock for SKU-42",
			want: map[string]string{EntitySKU: "SKU-42"},
		},
		{
			name: "loose sku spelling",
			text: "is sku 42 available in blue",
			want: map[string]string{EntitySKU: "SKU-42", EntityColor: "blue"},
		},
		{
			name: "order and tracking ids",
			text: "where is ORD-9001, tracking TRK-55AB",
			want: map[string]string{EntityOrderID: "ORD-9001", EntityTrackingNumber: "TRK-55AB"},
		},
		{
			name: "full order line",
			text: "buy x3 HAT-BLK-002 ship to sam@shop.io",
			want: map[string]string{EntitySKU: "HAT-BLK-002", EntityQuantity: "3", EntityEmail: "sam@shop.io"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractEntities(tt.text))
		})
	}
}
