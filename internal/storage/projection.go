package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"purifier-console/internal/contract"
	"purifier-console/internal/events"
)

// ContractProjection représente l'état consolidé d'un contrat côté lecture.
type ContractProjection struct {
	Contract       contract.Contract        `json:"contract"`
	LastEvent      events.ContractEventType `json:"last_event"`
	UpdatedAt      time.Time                `json:"updated_at"`
	Renewals       int                      `json:"renewals"`
	LastReminderAt time.Time                `json:"last_reminder_at,omitempty"`
}

// ProjectionStore reconstruit, à partir du flux contrats, une vue par client (CQRS/lecture).
type ProjectionStore struct {
	mu        sync.RWMutex
	contracts map[string]ContractProjection
	customers map[string][]string
}

// NewProjectionStore instancie une projection vide.
func NewProjectionStore() *ProjectionStore {
	return &ProjectionStore{
		contracts: make(map[string]ContractProjection),
		customers: make(map[string][]string),
	}
}

// ApplyEvent met à jour la projection. Un événement portant une version
// plus ancienne que celle déjà projetée est ignoré (rejeu idempotent) ;
// la valeur de retour indique si l'événement a été pris en compte.
func (s *ProjectionStore) ApplyEvent(evt events.ContractEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := evt.Contract.ID
	proj, known := s.contracts[id]

	if evt.Type == events.ContractReminder {
		if !known {
			return false
		}
		proj.LastReminderAt = evt.OccurredAt
		s.contracts[id] = proj
		return true
	}

	if known && evt.Contract.Version <= proj.Contract.Version {
		return false
	}
	if !known {
		s.customers[evt.Contract.CustomerRef] = append(s.customers[evt.Contract.CustomerRef], id)
	}

	proj.Contract = evt.Contract.Clone()
	proj.LastEvent = evt.Type
	proj.UpdatedAt = evt.OccurredAt
	if evt.Type == events.ContractRenewed {
		proj.Renewals++
	}
	s.contracts[id] = proj
	return true
}

// GetContract récupère la projection d'un contrat.
func (s *ProjectionStore) GetContract(id string) (ContractProjection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proj, ok := s.contracts[id]
	return proj, ok
}

// Summary agrège les contrats d'un client ; les statuts sont calculés à now.
func (s *ProjectionStore) Summary(customerRef string, now time.Time) (events.CustomerSummaryEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaryLocked(customerRef, now)
}

func (s *ProjectionStore) summaryLocked(customerRef string, now time.Time) (events.CustomerSummaryEvent, bool) {
	ids, ok := s.customers[customerRef]
	if !ok {
		return events.CustomerSummaryEvent{}, false
	}

	agg := events.CustomerSummaryEvent{CustomerRef: customerRef, TotalValue: decimal.Zero}
	for _, id := range ids {
		proj := s.contracts[id]
		agg.Contracts++
		agg.Renewals += proj.Renewals
		agg.TotalValue = agg.TotalValue.Add(proj.Contract.Amount)
		if proj.UpdatedAt.After(agg.LastUpdated) {
			agg.LastUpdated = proj.UpdatedAt
		}
		switch contract.Evaluate(proj.Contract, now).Status {
		case contract.StatusActive:
			agg.Active++
		case contract.StatusExpiringSoon:
			agg.ExpiringSoon++
		case contract.StatusExpired:
			agg.Expired++
		}
	}
	return agg, true
}

// ListSummaries renvoie les agrégats de tous les clients, triés.
func (s *ProjectionStore) ListSummaries(now time.Time) []events.CustomerSummaryEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]events.CustomerSummaryEvent, 0, len(s.customers))
	for customer := range s.customers {
		agg, _ := s.summaryLocked(customer, now)
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CustomerRef < out[j].CustomerRef
	})
	return out
}

// Reset vide les données.
func (s *ProjectionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts = make(map[string]ContractProjection)
	s.customers = make(map[string][]string)
}
