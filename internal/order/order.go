// Package order additionne les prix par ligne (produit remisé + option
// éventuelle) pour obtenir le total d'une commande.
package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"purifier-console/internal/pricing"
	"purifier-console/internal/validation"
)

// AddOn est une option vendue avec le produit (typiquement un plan AMC).
// Son prix s'ajoute après les remises produit et n'est jamais remisé.
type AddOn struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// LineInput regroupe l'état catalogue nécessaire pour chiffrer une ligne.
type LineInput struct {
	Product  pricing.Product
	Offer    *pricing.Offer
	AddOn    *AddOn
	Quantity int
}

// Line est une ligne de commande chiffrée.
type Line struct {
	ProductID  string                 `json:"productId"`
	Name       string                 `json:"name"`
	Quantity   int                    `json:"quantity"`
	Breakdown  pricing.PriceBreakdown `json:"breakdown"`
	AddOn      *AddOn                 `json:"addOn,omitempty"`
	AddOnPrice decimal.Decimal        `json:"addOnPrice"`
	UnitPrice  decimal.Decimal        `json:"unitPrice"`
	LineTotal  decimal.Decimal        `json:"lineTotal"`
}

// Totals résume une commande pour la facturation.
type Totals struct {
	Lines         []Line          `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	AddOnTotal    decimal.Decimal `json:"addOnTotal"`
	Total         decimal.Decimal `json:"total"`
	ItemCount     int             `json:"itemCount"`
}

// PriceLine chiffre une ligne : prix final du produit plus l'option.
func PriceLine(in LineInput) (Line, error) {
	if in.Quantity < 1 {
		return Line{}, validation.Fieldf("quantity", "%d doit être >= 1", in.Quantity)
	}
	addOnPrice := decimal.Zero
	if in.AddOn != nil {
		if in.AddOn.Price.IsNegative() {
			return Line{}, validation.Field("addOn.price", "ne peut pas être négatif")
		}
		addOnPrice = in.AddOn.Price
	}

	breakdown, err := in.Product.Price(in.Offer)
	if err != nil {
		return Line{}, err
	}

	unit := breakdown.FinalPrice.Add(addOnPrice)
	return Line{
		ProductID:  in.Product.ID,
		Name:       in.Product.Name,
		Quantity:   in.Quantity,
		Breakdown:  breakdown,
		AddOn:      in.AddOn,
		AddOnPrice: addOnPrice,
		UnitPrice:  unit,
		LineTotal:  unit.Mul(decimal.NewFromInt(int64(in.Quantity))),
	}, nil
}

// PriceOrder chiffre toutes les lignes et calcule le total.
// Aucune mise en cache : chaque appel reflète l'état catalogue fourni.
func PriceOrder(items []LineInput) (Totals, error) {
	out := Totals{
		Lines:         make([]Line, 0, len(items)),
		Subtotal:      decimal.Zero,
		TotalDiscount: decimal.Zero,
		AddOnTotal:    decimal.Zero,
		Total:         decimal.Zero,
	}
	for i, item := range items {
		line, err := PriceLine(item)
		if err != nil {
			return Totals{}, fmt.Errorf("ligne %d: %w", i, err)
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		out.Lines = append(out.Lines, line)
		out.Subtotal = out.Subtotal.Add(line.Breakdown.BasePrice.Mul(qty))
		out.TotalDiscount = out.TotalDiscount.Add(line.Breakdown.TotalDiscount().Mul(qty))
		out.AddOnTotal = out.AddOnTotal.Add(line.AddOnPrice.Mul(qty))
		out.Total = out.Total.Add(line.LineTotal)
		out.ItemCount += line.Quantity
	}
	return out, nil
}
