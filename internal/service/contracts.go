package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"purifier-console/internal/contract"
	"purifier-console/internal/events"
	"purifier-console/internal/lock"
	"purifier-console/internal/storage"
	"purifier-console/internal/validation"
)

// ContractView associe un contrat à son statut dérivé à l'instant de lecture.
type ContractView struct {
	contract.Contract
	Status  contract.StatusView `json:"status"`
	Balance decimal.Decimal     `json:"balance"`
	Overage bool                `json:"overage"`
}

// Dashboard résume le portefeuille de contrats.
type Dashboard struct {
	Total        int             `json:"total"`
	Active       int             `json:"active"`
	ExpiringSoon int             `json:"expiringSoon"`
	Expired      int             `json:"expired"`
	Overages     int             `json:"overages"`
	AMCValue     decimal.Decimal `json:"amcValue"`
	RentalValue  decimal.Decimal `json:"rentalValue"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	GeneratedAt  time.Time       `json:"generatedAt"`
}

func view(c contract.Contract, now time.Time) ContractView {
	return ContractView{
		Contract: c,
		Status:   contract.Evaluate(c, now),
		Balance:  c.Balance(),
		Overage:  c.Overage(),
	}
}

// CreateContract ouvre directement un contrat AMC ou location.
func (s *Service) CreateContract(ctx context.Context, customerRef string, in contract.PlanInput) (ContractView, error) {
	now := s.now()
	c, err := contract.Create(s.newID(), customerRef, in, now)
	if err != nil {
		return ContractView{}, s.reject("create_contract", err)
	}
	stored, err := s.store.CreateContract(ctx, c)
	if err != nil {
		return ContractView{}, err
	}
	s.contractCreated(ctx, stored, nil)
	return view(stored, now), nil
}

// contractCreated publie et trace la création d'un contrat déjà enregistré.
func (s *Service) contractCreated(ctx context.Context, c contract.Contract, metadata map[string]string) {
	now := s.now()
	evt := events.ContractEvent{
		EventID:    s.newID(),
		Type:       events.ContractCreated,
		Contract:   c,
		View:       contract.Evaluate(c, now),
		OccurredAt: now,
		Metadata:   metadata,
	}
	pubErr := s.publish(ctx, s.topics.Contracts, evt.Key(), evt, map[string]string{"event_type": string(evt.Type)})
	s.audit.Record("contract.created", c.ID, evt, pubErr)
	s.metrics.IncContractsCreated()
	s.logger.Info("Contrat créé", map[string]any{
		"contract": c.ID,
		"customer": c.CustomerRef,
		"kind":     string(c.Kind),
		"end_date": c.EndDate.Format(time.DateOnly),
	})
}

// RenewContract renouvelle le contrat id.
//
// expectedVersion est la version lue par l'appelant ; 0 accepte la version
// courante. Le verrou évite deux calculs concurrents, le stockage refuse
// toute version périmée.
func (s *Service) RenewContract(ctx context.Context, id string, expectedVersion int, in contract.RenewalInput) (contract.Renewal, error) {
	if expectedVersion < 0 {
		return contract.Renewal{}, s.reject("renew_contract", validation.Fieldf("expectedVersion", "%d doit être >= 0", expectedVersion))
	}

	release, err := s.locker.Acquire(ctx, renewalLockPrefix+id, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			s.metrics.IncRenewalConflicts()
		}
		return contract.Renewal{}, fmt.Errorf("renouvellement %s: %w", id, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("Libération du verrou impossible", err, map[string]any{"contract": id})
		}
	}()

	current, err := s.store.Contract(ctx, id)
	if err != nil {
		return contract.Renewal{}, err
	}
	if expectedVersion == 0 {
		expectedVersion = current.Version
	}
	if current.Version != expectedVersion {
		s.metrics.IncRenewalConflicts()
		return contract.Renewal{}, fmt.Errorf("contrat %s version %d (attendue %d): %w", id, current.Version, expectedVersion, storage.ErrVersionConflict)
	}

	now := s.now()
	renewal, err := contract.Renew(&current, in, now)
	if err != nil {
		return contract.Renewal{}, s.reject("renew_contract", err)
	}

	stored, err := s.store.ApplyRenewal(ctx, expectedVersion, renewal)
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			s.metrics.IncRenewalConflicts()
		}
		return contract.Renewal{}, err
	}
	renewal.Contract = stored

	evt := events.ContractEvent{
		EventID:    s.newID(),
		Type:       events.ContractRenewed,
		Contract:   stored,
		Entry:      &renewal.Entry,
		View:       contract.Evaluate(stored, now),
		OccurredAt: now,
	}
	pubErr := s.publish(ctx, s.topics.Contracts, evt.Key(), evt, map[string]string{
		"event_type": string(evt.Type),
		"version":    strconv.Itoa(stored.Version),
	})
	s.audit.Record("contract.renewed", id, evt, pubErr)
	s.metrics.IncRenewals()
	s.logger.Info("Contrat renouvelé", map[string]any{
		"contract":       id,
		"version":        stored.Version,
		"archived_entry": renewal.Entry.ID,
		"end_date":       stored.EndDate.Format(time.DateOnly),
	})
	return renewal, nil
}

// ContractStatus renvoie le contrat et son statut courant.
func (s *Service) ContractStatus(ctx context.Context, id string) (ContractView, error) {
	c, err := s.store.Contract(ctx, id)
	if err != nil {
		return ContractView{}, err
	}
	return view(c, s.now()), nil
}

// ContractHistory renvoie les périodes archivées, de la plus ancienne à la plus récente.
func (s *Service) ContractHistory(ctx context.Context, id string) ([]contract.HistoryEntry, error) {
	c, err := s.store.Contract(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.History, nil
}

// ListContracts renvoie les contrats, filtrés par statut si filter n'est pas vide.
func (s *Service) ListContracts(ctx context.Context, filter contract.Status) ([]ContractView, error) {
	all, err := s.store.Contracts(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]ContractView, 0, len(all))
	for _, c := range all {
		v := view(c, now)
		if filter != "" && v.Status.Status != filter {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// ExpiringContracts renvoie les contrats à relancer.
func (s *Service) ExpiringContracts(ctx context.Context) ([]ContractView, error) {
	return s.ListContracts(ctx, contract.StatusExpiringSoon)
}

// Dashboard compte les contrats par statut et totalise leur valeur.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	views, err := s.ListContracts(ctx, "")
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{
		AMCValue:    decimal.Zero,
		RentalValue: decimal.Zero,
		Outstanding: decimal.Zero,
		GeneratedAt: s.now(),
	}
	for _, v := range views {
		d.Total++
		switch v.Status.Status {
		case contract.StatusActive:
			d.Active++
		case contract.StatusExpiringSoon:
			d.ExpiringSoon++
		case contract.StatusExpired:
			d.Expired++
		}
		if v.Overage {
			d.Overages++
		}
		if v.Kind == contract.KindRental {
			d.RentalValue = d.RentalValue.Add(v.Amount)
		} else {
			d.AMCValue = d.AMCValue.Add(v.Amount)
		}
		d.Outstanding = d.Outstanding.Add(v.Balance)
	}
	return d, nil
}

// SendReminders publie un rappel pour chaque contrat non expiré dont
// l'échéance tombe dans horizonDays jours. Renvoie le nombre de rappels.
func (s *Service) SendReminders(ctx context.Context, horizonDays int) (int, error) {
	views, err := s.ListContracts(ctx, "")
	if err != nil {
		return 0, err
	}
	now := s.now()
	sent := 0
	for _, v := range views {
		if v.Status.Status == contract.StatusExpired || v.Status.DaysLeft > horizonDays {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		evt := events.ContractEvent{
			EventID:    s.newID(),
			Type:       events.ContractReminder,
			Contract:   v.Contract,
			View:       v.Status,
			OccurredAt: now,
			Metadata:   map[string]string{"days_left": strconv.Itoa(v.Status.DaysLeft)},
		}
		pubErr := s.publish(ctx, s.topics.Reminders, evt.Key(), evt, map[string]string{"event_type": string(evt.Type)})
		s.audit.Record("contract.reminder", v.ID, evt, pubErr)
		if pubErr == nil {
			sent++
		}
	}
	return sent, nil
}
