package order

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purifier-console/internal/pricing"
	"purifier-console/internal/validation"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func purifier() pricing.Product {
	return pricing.Product{ID: "ro-classic", Name: "RO Classic", BasePrice: d("10000"), DiscountPercent: d("10")}
}

func TestPriceLineAddsUndiscountedAddOn(t *testing.T) {
	offer := &pricing.Offer{
		Discount:          pricing.Percentage{Rate: d("5")},
		MinOrderAmount:    decimal.NewNullDecimal(d("5000")),
		MaxDiscountAmount: decimal.NewNullDecimal(d("300")),
		IsActive:          true,
	}
	plan := &AddOn{ID: "amc-gold", Name: "AMC Gold", Price: d("2500")}

	line, err := PriceLine(LineInput{Product: purifier(), Offer: offer, AddOn: plan, Quantity: 2})
	require.NoError(t, err)

	assertMoney(t, "8700", line.Breakdown.FinalPrice)
	assertMoney(t, "11200", line.UnitPrice)
	assertMoney(t, "22400", line.LineTotal)
}

func TestPriceOrderFoldsLines(t *testing.T) {
	filter := pricing.Product{ID: "filter", Name: "Sediment filter", BasePrice: d("450")}

	totals, err := PriceOrder([]LineInput{
		{Product: purifier(), Quantity: 1, AddOn: &AddOn{ID: "amc", Price: d("1999")}},
		{Product: filter, Quantity: 3},
	})
	require.NoError(t, err)

	// 9000 + 1999 + 3*450
	assertMoney(t, "12349", totals.Total)
	assertMoney(t, "11350", totals.Subtotal)
	assertMoney(t, "1000", totals.TotalDiscount)
	assertMoney(t, "1999", totals.AddOnTotal)
	assert.Equal(t, 4, totals.ItemCount)
	assert.Len(t, totals.Lines, 2)
}

func TestPriceOrderEmpty(t *testing.T) {
	totals, err := PriceOrder(nil)
	require.NoError(t, err)
	assertMoney(t, "0", totals.Total)
	assert.Empty(t, totals.Lines)
}

func TestPriceOrderReflectsLatestOffer(t *testing.T) {
	offer := &pricing.Offer{Discount: pricing.Flat{Amount: d("500")}, IsActive: true}
	items := []LineInput{{Product: purifier(), Offer: offer, Quantity: 1}}

	before, err := PriceOrder(items)
	require.NoError(t, err)
	assertMoney(t, "8500", before.Total)

	offer.IsActive = false
	after, err := PriceOrder(items)
	require.NoError(t, err)
	assertMoney(t, "9000", after.Total)
}

func TestPriceOrderRejectsBadLines(t *testing.T) {
	cases := []struct {
		name  string
		item  LineInput
		field string
	}{
		{name: "zero quantity", item: LineInput{Product: purifier(), Quantity: 0}, field: "quantity"},
		{name: "negative add-on", item: LineInput{Product: purifier(), Quantity: 1, AddOn: &AddOn{Price: d("-1")}}, field: "addOn.price"},
		{name: "bad product", item: LineInput{Product: pricing.Product{BasePrice: d("-10")}, Quantity: 1}, field: "basePrice"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PriceOrder([]LineInput{{Product: purifier(), Quantity: 1}, tc.item})
			require.Error(t, err)
			assert.True(t, errors.Is(err, validation.ErrInvalid))
			assert.Contains(t, err.Error(), "ligne 1")
			field, _ := validation.FieldOf(err)
			assert.Equal(t, tc.field, field)
		})
	}
}
