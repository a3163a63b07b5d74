package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"purifier-console/internal/contract"
	"purifier-console/internal/pricing"
)

// CatalogWriter est implémenté par MemoryStore et PostgresStore.
type CatalogWriter interface {
	PutProduct(ctx context.Context, p pricing.Product) error
	PutOffer(ctx context.Context, o pricing.Offer) error
	PutPlan(ctx context.Context, p contract.Plan) error
}

// SeedDemoCatalog charge un petit catalogue de démonstration : deux
// purificateurs, une pièce détachée, deux offres et trois formules.
func SeedDemoCatalog(ctx context.Context, w CatalogWriter) error {
	offers := []pricing.Offer{
		{
			ID:                "festive-5",
			Name:              "Offre festive 5%",
			Discount:          pricing.Percentage{Rate: decimal.NewFromInt(5)},
			MinOrderAmount:    decimal.NewNullDecimal(decimal.NewFromInt(5000)),
			MaxDiscountAmount: decimal.NewNullDecimal(decimal.NewFromInt(300)),
			IsActive:          true,
		},
		{
			ID:             "flat-200",
			Name:           "Remise 200",
			Discount:       pricing.Flat{Amount: decimal.NewFromInt(200)},
			MinOrderAmount: decimal.NewNullDecimal(decimal.NewFromInt(1500)),
			IsActive:       true,
		},
	}
	plans := []contract.Plan{
		{ID: "amc-silver", Name: "AMC Silver", Type: "comprehensive", Kind: contract.KindAMC, Price: decimal.NewFromInt(2999), DurationMonths: 12, ServicesTotal: 3},
		{ID: "amc-gold", Name: "AMC Gold", Type: "comprehensive", Kind: contract.KindAMC, Price: decimal.NewFromInt(4999), DurationMonths: 12, ServicesTotal: 4, PartsIncluded: true},
		{ID: "rental-monthly", Name: "Location mensuelle", Type: "rental", Kind: contract.KindRental, Price: decimal.NewFromInt(499), DurationMonths: 1, ServicesTotal: 1, PartsIncluded: true},
	}
	products := []pricing.Product{
		{ID: "ro-classic", Name: "RO Classic", BasePrice: decimal.NewFromInt(10000), DiscountPercent: decimal.NewFromInt(10), OfferID: "festive-5", AMCPlanIDs: []string{"amc-silver", "amc-gold"}},
		{ID: "uv-compact", Name: "UV Compact", BasePrice: decimal.NewFromInt(6500), OfferID: "flat-200", AMCPlanIDs: []string{"amc-silver"}},
		{ID: "sediment-filter", Name: "Filtre à sédiments", BasePrice: decimal.NewFromInt(450)},
	}

	for _, o := range offers {
		if err := w.PutOffer(ctx, o); err != nil {
			return err
		}
	}
	for _, p := range plans {
		if err := w.PutPlan(ctx, p); err != nil {
			return err
		}
	}
	for _, p := range products {
		if err := w.PutProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
