package pricing

import "github.com/shopspring/decimal"

// Product est un article (ou pièce détachée) du catalogue.
// Les montants absents du JSON valent zéro.
type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	BasePrice       decimal.Decimal `json:"basePrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	OfferID         string          `json:"offerId,omitempty"`
	AMCPlanIDs      []string        `json:"amcPlanIds,omitempty"`
}

// Price calcule le prix du produit avec l'offre résolue par l'appelant.
func (p Product) Price(offer *Offer) (PriceBreakdown, error) {
	return ComputeItemPrice(p.BasePrice, p.DiscountPercent, offer)
}
