package pricing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"purifier-console/internal/validation"
)

// DiscountType est la forme sérialisée du type de remise d'une offre.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFlat       DiscountType = "flat"
)

// Discount est une remise promotionnelle : Percentage ou Flat, rien d'autre.
type Discount interface {
	Type() DiscountType
	Value() decimal.Decimal
	discount()
}

// Percentage réduit le prix d'un pourcentage (0..100 attendu, non borné ici).
type Percentage struct {
	Rate decimal.Decimal
}

func (Percentage) Type() DiscountType       { return DiscountPercentage }
func (p Percentage) Value() decimal.Decimal { return p.Rate }
func (Percentage) discount()                {}

// Flat retire un montant fixe, sans plafond ni prorata.
type Flat struct {
	Amount decimal.Decimal
}

func (Flat) Type() DiscountType       { return DiscountFlat }
func (f Flat) Value() decimal.Decimal { return f.Amount }
func (Flat) discount()                {}

// NewDiscount convertit la paire (type, valeur) reçue du catalogue.
func NewDiscount(kind DiscountType, value decimal.Decimal) (Discount, error) {
	switch kind {
	case DiscountPercentage:
		return Percentage{Rate: value}, nil
	case DiscountFlat:
		return Flat{Amount: value}, nil
	default:
		return nil, validation.Fieldf("offer.discountType", "type de remise inconnu %q", kind)
	}
}

// Offer est une promotion référencée par un produit, jamais copiée dans celui-ci.
type Offer struct {
	ID                string
	Name              string
	Discount          Discount
	MinOrderAmount    decimal.NullDecimal
	MaxDiscountAmount decimal.NullDecimal
	IsActive          bool
}

type offerWire struct {
	ID                string              `json:"id,omitempty"`
	Name              string              `json:"name,omitempty"`
	DiscountType      DiscountType        `json:"discountType"`
	DiscountValue     decimal.Decimal     `json:"discountValue"`
	MinOrderAmount    decimal.NullDecimal `json:"minOrderAmount"`
	MaxDiscountAmount decimal.NullDecimal `json:"maxDiscountAmount"`
	IsActive          bool                `json:"isActive"`
}

// MarshalJSON produit la forme plate utilisée par l'API catalogue.
func (o Offer) MarshalJSON() ([]byte, error) {
	w := offerWire{
		ID:                o.ID,
		Name:              o.Name,
		MinOrderAmount:    o.MinOrderAmount,
		MaxDiscountAmount: o.MaxDiscountAmount,
		IsActive:          o.IsActive,
	}
	if o.Discount != nil {
		w.DiscountType = o.Discount.Type()
		w.DiscountValue = o.Discount.Value()
	}
	return json.Marshal(w)
}

// UnmarshalJSON rejette tout discountType hors de percentage/flat.
func (o *Offer) UnmarshalJSON(data []byte) error {
	var w offerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("décodage offre: %w", err)
	}
	d, err := NewDiscount(w.DiscountType, w.DiscountValue)
	if err != nil {
		return err
	}
	*o = Offer{
		ID:                w.ID,
		Name:              w.Name,
		Discount:          d,
		MinOrderAmount:    w.MinOrderAmount,
		MaxDiscountAmount: w.MaxDiscountAmount,
		IsActive:          w.IsActive,
	}
	return nil
}

// Validate vérifie les montants de l'offre.
func (o Offer) Validate() error {
	if o.Discount == nil {
		return validation.Field("offer.discountType", "remise absente")
	}
	if o.Discount.Value().IsNegative() {
		return validation.Field("offer.discountValue", "ne peut pas être négatif")
	}
	if o.MinOrderAmount.Valid && o.MinOrderAmount.Decimal.IsNegative() {
		return validation.Field("offer.minOrderAmount", "ne peut pas être négatif")
	}
	if o.MaxDiscountAmount.Valid && o.MaxDiscountAmount.Decimal.IsNegative() {
		return validation.Field("offer.maxDiscountAmount", "ne peut pas être négatif")
	}
	return nil
}

// eligible indique si l'offre s'applique à un montant déjà remisé.
func (o *Offer) eligible(amount decimal.Decimal) bool {
	if o == nil || !o.IsActive {
		return false
	}
	if o.MinOrderAmount.Valid && amount.LessThan(o.MinOrderAmount.Decimal) {
		return false
	}
	return true
}

// amountOff calcule la remise de l'offre sur un montant éligible.
func (o *Offer) amountOff(amount decimal.Decimal) decimal.Decimal {
	switch d := o.Discount.(type) {
	case Percentage:
		off := amount.Mul(d.Rate).Div(hundred)
		if o.MaxDiscountAmount.Valid && off.GreaterThan(o.MaxDiscountAmount.Decimal) {
			off = o.MaxDiscountAmount.Decimal
		}
		return off
	case Flat:
		return d.Amount
	default:
		return decimal.Zero
	}
}
