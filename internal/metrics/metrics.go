package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Counters stocke les compteurs globaux de la console.
type Counters struct {
	mu                sync.RWMutex
	produced          atomic.Int64
	consumed          atomic.Int64
	dlq               atomic.Int64
	breakerOpen       atomic.Int64
	itemsPriced       atomic.Int64
	ordersPlaced      atomic.Int64
	contractsCreated  atomic.Int64
	renewals          atomic.Int64
	renewalConflicts  atomic.Int64
	validationFailure atomic.Int64
	latency           map[string]time.Duration
}

// Default est l'instance partagée par défaut.
var Default = NewCounters()

// NewCounters crée un collecteur initialisé.
func NewCounters() *Counters {
	return &Counters{
		latency: make(map[string]time.Duration),
	}
}

func (c *Counters) IncProduced() {
	c.produced.Add(1)
}

func (c *Counters) IncConsumed() {
	c.consumed.Add(1)
}

func (c *Counters) IncDLQ() {
	c.dlq.Add(1)
}

func (c *Counters) IncBreakerOpen() {
	c.breakerOpen.Add(1)
}

// AddItemsPriced compte les articles chiffrés (aperçu ou commande).
func (c *Counters) AddItemsPriced(n int) {
	c.itemsPriced.Add(int64(n))
}

func (c *Counters) IncOrdersPlaced() {
	c.ordersPlaced.Add(1)
}

func (c *Counters) IncContractsCreated() {
	c.contractsCreated.Add(1)
}

func (c *Counters) IncRenewals() {
	c.renewals.Add(1)
}

// IncRenewalConflicts compte les renouvellements rejetés (version ou verrou).
func (c *Counters) IncRenewalConflicts() {
	c.renewalConflicts.Add(1)
}

func (c *Counters) IncValidationFailures() {
	c.validationFailure.Add(1)
}

// ObserveLatency enregistre une latence pour une clé (topic ou opération).
func (c *Counters) ObserveLatency(key string, value time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency[key] = value
}

// Snapshot renvoie les valeurs actuelles.
func (c *Counters) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	latency := make(map[string]string, len(c.latency))
	for k, v := range c.latency {
		latency[k] = v.String()
	}

	return map[string]any{
		"produced":            c.produced.Load(),
		"consumed":            c.consumed.Load(),
		"dlq":                 c.dlq.Load(),
		"breaker_open":        c.breakerOpen.Load(),
		"items_priced":        c.itemsPriced.Load(),
		"orders_placed":       c.ordersPlaced.Load(),
		"contracts_created":   c.contractsCreated.Load(),
		"renewals":            c.renewals.Load(),
		"renewal_conflicts":   c.renewalConflicts.Load(),
		"validation_failures": c.validationFailure.Load(),
		"latency":             latency,
	}
}

// Report transmet un instantané à report toutes les every jusqu'à l'annulation de ctx.
func (c *Counters) Report(ctx context.Context, every time.Duration, report func(snapshot map[string]any)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(c.Snapshot())
		}
	}
}
