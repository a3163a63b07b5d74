package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"purifier-console/internal/contract"
	"purifier-console/internal/pricing"
)

var (
	// ErrNotFound signale une référence inconnue.
	ErrNotFound = errors.New("enregistrement introuvable")
	// ErrVersionConflict signale qu'un autre renouvellement est passé avant.
	ErrVersionConflict = errors.New("conflit de version")
	// ErrDuplicate signale un contrat courant déjà existant pour ce client/produit.
	ErrDuplicate = errors.New("enregistrement déjà existant")
)

// MemoryStore offre un stockage en mémoire thread-safe du catalogue et des contrats.
type MemoryStore struct {
	mu        sync.RWMutex
	products  map[string]pricing.Product
	offers    map[string]pricing.Offer
	plans     map[string]contract.Plan
	contracts map[string]contract.Contract
}

// NewMemoryStore instancie un stockage vide.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:  make(map[string]pricing.Product),
		offers:    make(map[string]pricing.Offer),
		plans:     make(map[string]contract.Plan),
		contracts: make(map[string]contract.Contract),
	}
}

// PutProduct insère ou remplace un produit.
func (s *MemoryStore) PutProduct(_ context.Context, p pricing.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

// PutOffer insère ou remplace une offre.
func (s *MemoryStore) PutOffer(_ context.Context, o pricing.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.ID] = o
	return nil
}

// PutPlan insère ou remplace une formule AMC/location.
func (s *MemoryStore) PutPlan(_ context.Context, p contract.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p
	return nil
}

// Product récupère un produit.
func (s *MemoryStore) Product(_ context.Context, id string) (pricing.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return pricing.Product{}, fmt.Errorf("produit %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// Offer récupère une offre.
func (s *MemoryStore) Offer(_ context.Context, id string) (pricing.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[id]
	if !ok {
		return pricing.Offer{}, fmt.Errorf("offre %s: %w", id, ErrNotFound)
	}
	return o, nil
}

// Plan récupère une formule.
func (s *MemoryStore) Plan(_ context.Context, id string) (contract.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return contract.Plan{}, fmt.Errorf("formule %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// CreateContract enregistre un premier contrat en version 1.
func (s *MemoryStore) CreateContract(ctx context.Context, c contract.Contract) (contract.Contract, error) {
	stored, err := s.CreateContracts(ctx, []contract.Contract{c})
	if err != nil {
		return contract.Contract{}, err
	}
	return stored[0], nil
}

// CreateContracts enregistre un lot de contrats en version 1. Le lot est
// vérifié en entier avant toute insertion : aucun contrat n'est conservé si
// l'un d'eux est refusé.
func (s *MemoryStore) CreateContracts(_ context.Context, batch []contract.Contract) ([]contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range batch {
		if _, ok := s.contracts[c.ID]; ok {
			return nil, fmt.Errorf("contrat %s: %w", c.ID, ErrDuplicate)
		}
		for _, existing := range s.contracts {
			if sameSubject(existing, c) {
				return nil, fmt.Errorf("contrat courant %s pour %s/%s: %w", existing.ID, c.CustomerRef, c.ProductRef, ErrDuplicate)
			}
		}
		for _, prev := range batch[:i] {
			if prev.ID == c.ID || sameSubject(prev, c) {
				return nil, fmt.Errorf("contrat %s en double dans le lot: %w", c.ID, ErrDuplicate)
			}
		}
	}

	out := make([]contract.Contract, 0, len(batch))
	for _, c := range batch {
		stored := c.Clone()
		stored.Version = 1
		s.contracts[c.ID] = stored
		out = append(out, stored.Clone())
	}
	return out, nil
}

// Contract renvoie une copie du contrat courant.
func (s *MemoryStore) Contract(_ context.Context, id string) (contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return contract.Contract{}, fmt.Errorf("contrat %s: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

// Contracts renvoie tous les contrats triés par client puis identifiant.
func (s *MemoryStore) Contracts(_ context.Context) ([]contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contract.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, c.Clone())
	}
	sortContracts(out)
	return out, nil
}

// ApplyRenewal remplace le contrat et ajoute l'entrée d'historique en une
// seule opération, si la version stockée vaut toujours expectedVersion.
func (s *MemoryStore) ApplyRenewal(_ context.Context, expectedVersion int, r contract.Renewal) (contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := r.Contract.ID
	stored, ok := s.contracts[id]
	if !ok {
		return contract.Contract{}, fmt.Errorf("contrat %s: %w", id, ErrNotFound)
	}
	if stored.Version != expectedVersion || len(r.Contract.History) != len(stored.History)+1 {
		return contract.Contract{}, fmt.Errorf("contrat %s version %d (attendue %d): %w", id, stored.Version, expectedVersion, ErrVersionConflict)
	}

	next := r.Contract.Clone()
	next.Version = stored.Version + 1
	s.contracts[id] = next
	return next.Clone(), nil
}

// Reset vide les données.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = make(map[string]pricing.Product)
	s.offers = make(map[string]pricing.Offer)
	s.plans = make(map[string]contract.Plan)
	s.contracts = make(map[string]contract.Contract)
}

func sameSubject(a, b contract.Contract) bool {
	return a.CustomerRef == b.CustomerRef && a.ProductRef == b.ProductRef && a.Kind == b.Kind
}

func sortContracts(out []contract.Contract) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CustomerRef != out[j].CustomerRef {
			return out[i].CustomerRef < out[j].CustomerRef
		}
		return out[i].ID < out[j].ID
	})
}
