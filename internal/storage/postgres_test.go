package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purifier-console/internal/contract"
	"purifier-console/internal/pricing"
)

// openTestPostgres connects to the database named by TEST_DB_URL, or skips.
func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("tests d'intégration ignorés en mode short")
	}
	dsn := os.Getenv("TEST_DB_URL")
	if dsn == "" {
		t.Skip("TEST_DB_URL non défini")
	}
	s, err := OpenPostgres(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStoreCatalogRoundTrip(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	suffix := uuid.NewString()

	offer := pricing.Offer{
		ID:                "offer-" + suffix,
		Discount:          pricing.Percentage{Rate: decimal.NewFromInt(5)},
		MinOrderAmount:    decimal.NewNullDecimal(decimal.NewFromInt(5000)),
		MaxDiscountAmount: decimal.NewNullDecimal(decimal.NewFromInt(300)),
		IsActive:          true,
	}
	require.NoError(t, s.PutOffer(ctx, offer))
	require.NoError(t, s.PutProduct(ctx, pricing.Product{
		ID: "prod-" + suffix, Name: "RO Classic", BasePrice: decimal.NewFromInt(10000),
		DiscountPercent: decimal.NewFromInt(10), OfferID: offer.ID, AMCPlanIDs: []string{"amc-a", "amc-b"},
	}))

	p, err := s.Product(ctx, "prod-"+suffix)
	require.NoError(t, err)
	assert.Equal(t, []string{"amc-a", "amc-b"}, p.AMCPlanIDs)

	o, err := s.Offer(ctx, p.OfferID)
	require.NoError(t, err)
	price, err := p.Price(&o)
	require.NoError(t, err)
	assert.True(t, price.FinalPrice.Equal(decimal.NewFromInt(8700)))
}

func TestPostgresStoreRenewalIsAtomic(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()

	c := newContract(t, uuid.NewString(), "cust-"+uuid.NewString())
	stored, err := s.CreateContract(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)

	r, err := contract.Renew(&stored, contract.RenewalInput{PlanName: "AMC Gold", DurationMonths: 12}, now)
	require.NoError(t, err)

	renewed, err := s.ApplyRenewal(ctx, 1, r)
	require.NoError(t, err)
	assert.Equal(t, 2, renewed.Version)
	require.Len(t, renewed.History, 1)
	assert.Equal(t, "AMC Silver", renewed.History[0].PlanName)

	_, err = s.ApplyRenewal(ctx, 1, r)
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = s.CreateContract(ctx, c)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPostgresStoreCreateContractsRollsBack(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	customer := "cust-" + uuid.NewString()

	first := newContract(t, uuid.NewString(), customer)
	clash := newContract(t, uuid.NewString(), customer)
	_, err := s.CreateContracts(ctx, []contract.Contract{first, clash})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.Contract(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreKeepsCatalogScale(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	id := "prod-" + uuid.NewString()
	want := pricing.Product{
		ID: id, Name: "UV Compact", BasePrice: decimal.RequireFromString("9999.995"),
		DiscountPercent: decimal.RequireFromString("33.333"),
	}
	require.NoError(t, s.PutProduct(ctx, want))

	got, err := s.Product(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.DiscountPercent.Equal(want.DiscountPercent), "discount %s", got.DiscountPercent)
	assert.True(t, got.BasePrice.Equal(want.BasePrice), "base %s", got.BasePrice)

	memory := NewMemoryStore()
	require.NoError(t, memory.PutProduct(ctx, want))
	fromMemory, err := memory.Product(ctx, id)
	require.NoError(t, err)
	p1, err := got.Price(nil)
	require.NoError(t, err)
	p2, err := fromMemory.Price(nil)
	require.NoError(t, err)
	assert.True(t, p1.FinalPrice.Equal(p2.FinalPrice))
}
