package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    float64
		wantErr bool
	}{
		{name: "plain", in: "19.90", want: 19.90},
		{name: "us thousands", in: "$1,299.90", want: 1299.90},
		{name: "br thousands", in: "R$ 1.299,90", want: 1299.90},
		{name: "br decimal only", in: "R$ 49,90", want: 49.90},
		{name: "integer", in: "1299", want: 1299},
		{name: "many groups", in: "1.234.567,89", want: 1234567.89},
		{name: "empty", in: "", wantErr: true},
		{name: "no digits", in: "call for price", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePrice(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestProductFieldsHasPrice(t *testing.T) {
	t.Parallel()

	require.False(t, ProductFields{}.HasPrice())
	require.False(t, ProductFields{FieldCurrentPrice: "  "}.HasPrice())
	require.True(t, ProductFields{FieldCurrentPrice: 10.0}.HasPrice())
	require.True(t, ProductFields{FieldOriginalPrice: "10,00"}.HasPrice())
}

func TestProductFieldsSetSkipsEmpty(t *testing.T) {
	t.Parallel()

	f := ProductFields{}
	f.Set(FieldBrand, "")
	f.Set(FieldSeller, nil)
	f.Set(FieldSKU, "SKU-1")
	require.Equal(t, ProductFields{FieldSKU: "SKU-1"}, f)

	f.SetIfMissing(FieldSKU, "SKU-2")
	require.Equal(t, "SKU-1", f[FieldSKU])
}

func TestDeriveDiscount(t *testing.T) {
	t.Parallel()

	f := ProductFields{FieldCurrentPrice: 75.0, FieldOriginalPrice: "100,00"}
	f.DeriveDiscount()
	require.InDelta(t, 25.0, f[FieldDiscountPercentage], 0.001)

	kept := ProductFields{FieldCurrentPrice: 75.0, FieldOriginalPrice: 100.0, FieldDiscountPercentage: 10.0}
	kept.DeriveDiscount()
	require.Equal(t, 10.0, kept[FieldDiscountPercentage])

	noDiscount := ProductFields{FieldCurrentPrice: 100.0, FieldOriginalPrice: 100.0}
	noDiscount.DeriveDiscount()
	require.NotContains(t, noDiscount, FieldDiscountPercentage)
}
