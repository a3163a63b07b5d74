// Package contract dérive le statut des contrats de service (AMC ou
// location) et calcule leur renouvellement.
//
// Le statut n'est jamais stocké : Evaluate le recalcule à partir des dates
// du contrat et d'un instant "now" fourni par l'appelant. Renew produit en
// une seule valeur le nouveau contrat et l'entrée d'historique archivée.
package contract

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind distingue un contrat de maintenance d'une location.
type Kind string

const (
	KindAMC    Kind = "amc"
	KindRental Kind = "rental"
)

// Valid indique si le type de contrat est connu.
func (k Kind) Valid() bool {
	return k == KindAMC || k == KindRental
}

// PaymentStatus reflète l'état de règlement du contrat courant.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPending PaymentStatus = "pending"
)

// HistoryEntry est l'instantané immuable d'une période archivée.
type HistoryEntry struct {
	ID         string          `json:"id"`
	PlanName   string          `json:"planName"`
	PlanType   string          `json:"planType"`
	StartDate  time.Time       `json:"startDate"`
	EndDate    time.Time       `json:"endDate"`
	Amount     decimal.Decimal `json:"amount"`
	Status     Status          `json:"status"`
	ArchivedAt time.Time       `json:"archivedAt"`
}

// Contract est le contrat courant d'un couple client/produit.
type Contract struct {
	ID                 string          `json:"id"`
	Kind               Kind            `json:"kind"`
	CustomerRef        string          `json:"customerRef"`
	ProductRef         string          `json:"productRef,omitempty"`
	PlanName           string          `json:"planName"`
	PlanType           string          `json:"planType"`
	StartDate          time.Time       `json:"startDate"`
	EndDate            time.Time       `json:"endDate"`
	Amount             decimal.Decimal `json:"amount"`
	AmountPaid         decimal.Decimal `json:"amountPaid"`
	PaymentStatus      PaymentStatus   `json:"paymentStatus"`
	PaymentMode        string          `json:"paymentMode,omitempty"`
	ServicesUsed       int             `json:"servicesUsed"`
	ServicesTotal      int             `json:"servicesTotal"`
	PartsIncluded      bool            `json:"partsIncluded"`
	AssignedTechnician string          `json:"assignedTechnician,omitempty"`
	History            []HistoryEntry  `json:"history"`
	Version            int             `json:"version"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Balance renvoie le reste à payer (jamais négatif).
func (c Contract) Balance() decimal.Decimal {
	due := c.Amount.Sub(c.AmountPaid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// Overage indique plus d'interventions consommées que prévues.
func (c Contract) Overage() bool {
	return c.ServicesUsed > c.ServicesTotal
}

// Clone renvoie une copie dont l'historique ne partage pas le tableau d'origine.
func (c Contract) Clone() Contract {
	out := c
	out.History = append([]HistoryEntry(nil), c.History...)
	return out
}

// Plan est une formule AMC ou location proposée au catalogue.
type Plan struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Kind           Kind            `json:"kind"`
	Price          decimal.Decimal `json:"price"`
	DurationMonths int             `json:"durationMonths"`
	ServicesTotal  int             `json:"servicesTotal"`
	PartsIncluded  bool            `json:"partsIncluded"`
}

// Input prépare la création d'un contrat à partir de la formule.
func (p Plan) Input(productRef string, start *time.Time) PlanInput {
	return PlanInput{
		Kind:       p.Kind,
		ProductRef: productRef,
		RenewalInput: RenewalInput{
			PlanName:       p.Name,
			PlanType:       p.Type,
			StartDate:      start,
			DurationMonths: p.DurationMonths,
			Amount:         p.Price,
			ServicesTotal:  p.ServicesTotal,
			PartsIncluded:  p.PartsIncluded,
		},
	}
}
