// Package pricing calcule le prix final d'un article du catalogue à partir
// de son prix de base, de sa remise produit et d'une offre promotionnelle.
//
// Les remises produit s'appliquent d'abord ; l'éligibilité de l'offre est
// évaluée sur le montant déjà remisé. Toutes les fonctions sont pures.
package pricing

import (
	"github.com/shopspring/decimal"

	"purifier-console/internal/validation"
)

var hundred = decimal.NewFromInt(100)

// PriceBreakdown détaille le calcul d'un prix unitaire. Jamais stocké.
type PriceBreakdown struct {
	BasePrice             decimal.Decimal `json:"basePrice"`
	ProductDiscountAmount decimal.Decimal `json:"productDiscountAmount"`
	AfterProductDiscount  decimal.Decimal `json:"afterProductDiscount"`
	OfferDiscountAmount   decimal.Decimal `json:"offerDiscountAmount"`
	FinalPrice            decimal.Decimal `json:"finalPrice"`
	AppliedOffer          *Offer          `json:"appliedOffer"`
}

// TotalDiscount renvoie la somme des remises produit et offre.
func (b PriceBreakdown) TotalDiscount() decimal.Decimal {
	return b.BasePrice.Sub(b.FinalPrice)
}

// ComputeItemPrice applique la remise produit puis l'offre éventuelle.
//
// Une offre inactive ou sous son seuil minimum est ignorée sans erreur
// (AppliedOffer vaut nil). Les entrées hors bornes renvoient une
// validation.FieldError nommant le champ.
func ComputeItemPrice(basePrice, discountPercent decimal.Decimal, offer *Offer) (PriceBreakdown, error) {
	if basePrice.IsNegative() {
		return PriceBreakdown{}, validation.Field("basePrice", "ne peut pas être négatif")
	}
	if discountPercent.IsNegative() || discountPercent.GreaterThan(hundred) {
		return PriceBreakdown{}, validation.Fieldf("discountPercent", "%s hors de [0,100]", discountPercent)
	}
	if offer != nil {
		if err := offer.Validate(); err != nil {
			return PriceBreakdown{}, err
		}
	}

	productOff := decimal.Zero
	if discountPercent.IsPositive() {
		productOff = basePrice.Mul(discountPercent).Div(hundred)
	}
	after := basePrice.Sub(productOff)

	out := PriceBreakdown{
		BasePrice:             basePrice,
		ProductDiscountAmount: productOff,
		AfterProductDiscount:  after,
		OfferDiscountAmount:   decimal.Zero,
	}

	if offer.eligible(after) {
		out.OfferDiscountAmount = offer.amountOff(after)
		applied := *offer
		out.AppliedOffer = &applied
	}

	final := after.Sub(out.OfferDiscountAmount)
	if final.IsNegative() {
		final = decimal.Zero
	}
	out.FinalPrice = final
	return out, nil
}
