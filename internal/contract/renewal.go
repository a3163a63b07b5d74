package contract

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"purifier-console/internal/validation"
)

// RenewalInput décrit la nouvelle période saisie lors d'un renouvellement.
// StartDate nil signifie "à partir de now".
type RenewalInput struct {
	PlanName       string          `json:"planName"`
	PlanType       string          `json:"planType"`
	StartDate      *time.Time      `json:"startDate,omitempty"`
	DurationMonths int             `json:"durationMonths"`
	Amount         decimal.Decimal `json:"amount"`
	AmountPaid     decimal.Decimal `json:"amountPaid"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus,omitempty"`
	PaymentMode    string          `json:"paymentMode,omitempty"`
	ServicesTotal  int             `json:"servicesTotal"`
	PartsIncluded  bool            `json:"partsIncluded"`
}

// PlanInput décrit un premier contrat AMC ou location.
type PlanInput struct {
	RenewalInput
	Kind               Kind   `json:"kind"`
	ProductRef         string `json:"productRef,omitempty"`
	AssignedTechnician string `json:"assignedTechnician,omitempty"`
}

// Renewal est le résultat indivisible d'un renouvellement : le stockage doit
// appliquer Contract et Entry ensemble ou pas du tout.
type Renewal struct {
	Contract Contract     `json:"contract"`
	Entry    HistoryEntry `json:"entry"`
}

// Validate contrôle les bornes de la saisie.
func (in RenewalInput) Validate() error {
	if strings.TrimSpace(in.PlanName) == "" {
		return validation.Field("planName", "obligatoire")
	}
	if in.DurationMonths <= 0 {
		return validation.Fieldf("durationMonths", "%d doit être > 0", in.DurationMonths)
	}
	if in.Amount.IsNegative() {
		return validation.Field("amount", "ne peut pas être négatif")
	}
	if in.AmountPaid.IsNegative() {
		return validation.Field("amountPaid", "ne peut pas être négatif")
	}
	if in.ServicesTotal < 0 {
		return validation.Field("servicesTotal", "ne peut pas être négatif")
	}
	switch in.PaymentStatus {
	case "", PaymentPaid, PaymentPartial, PaymentPending:
	default:
		return validation.Fieldf("paymentStatus", "statut %q inconnu", in.PaymentStatus)
	}
	return nil
}

// period calcule les dates de la nouvelle période.
func (in RenewalInput) period(now time.Time) (time.Time, time.Time) {
	start := now
	if in.StartDate != nil && !in.StartDate.IsZero() {
		start = *in.StartDate
	}
	return start, start.AddDate(0, in.DurationMonths, 0)
}

func (in RenewalInput) paymentStatus() PaymentStatus {
	if in.PaymentStatus != "" {
		return in.PaymentStatus
	}
	switch {
	case in.AmountPaid.GreaterThanOrEqual(in.Amount):
		return PaymentPaid
	case in.AmountPaid.IsPositive():
		return PaymentPartial
	default:
		return PaymentPending
	}
}

// apply écrit la période et les conditions de in sur c.
func (in RenewalInput) apply(c *Contract, now time.Time) {
	c.StartDate, c.EndDate = in.period(now)
	c.PlanName = in.PlanName
	c.PlanType = in.PlanType
	c.Amount = in.Amount
	c.AmountPaid = in.AmountPaid
	c.PaymentStatus = in.paymentStatus()
	c.PaymentMode = in.PaymentMode
	c.ServicesTotal = in.ServicesTotal
	c.ServicesUsed = 0
	c.PartsIncluded = in.PartsIncluded
	c.UpdatedAt = now
}

// Renew archive la période courante et ouvre la suivante.
//
// current n'est jamais modifié : l'historique du contrat renvoyé est une
// copie à laquelle l'entrée archivée est ajoutée. Version reste inchangée,
// le stockage l'incrémente en appliquant le renouvellement.
func Renew(current *Contract, in RenewalInput, now time.Time) (Renewal, error) {
	if current == nil || current.ID == "" {
		return Renewal{}, validation.Field("contract", "contrat introuvable")
	}
	if err := in.Validate(); err != nil {
		return Renewal{}, err
	}

	entry := HistoryEntry{
		ID:         fmt.Sprintf("%s-h%d", current.ID, len(current.History)+1),
		PlanName:   current.PlanName,
		PlanType:   current.PlanType,
		StartDate:  current.StartDate,
		EndDate:    current.EndDate,
		Amount:     current.Amount,
		Status:     Evaluate(*current, now).Status,
		ArchivedAt: now,
	}

	next := current.Clone()
	in.apply(&next, now)
	next.History = append(next.History, entry)

	return Renewal{Contract: next, Entry: entry}, nil
}

// Create ouvre le premier contrat d'un client, sans historique.
func Create(id, customerRef string, in PlanInput, now time.Time) (Contract, error) {
	if strings.TrimSpace(customerRef) == "" {
		return Contract{}, validation.Field("customerRef", "obligatoire")
	}
	if id == "" {
		return Contract{}, validation.Field("id", "obligatoire")
	}
	kind := in.Kind
	if kind == "" {
		kind = KindAMC
	}
	if !kind.Valid() {
		return Contract{}, validation.Fieldf("kind", "type %q inconnu", in.Kind)
	}
	if err := in.RenewalInput.Validate(); err != nil {
		return Contract{}, err
	}

	c := Contract{
		ID:                 id,
		Kind:               kind,
		CustomerRef:        customerRef,
		ProductRef:         in.ProductRef,
		AssignedTechnician: in.AssignedTechnician,
		History:            []HistoryEntry{},
		CreatedAt:          now,
	}
	in.RenewalInput.apply(&c, now)
	return c, nil
}
