package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"purifier-console/internal/contract"
	"purifier-console/internal/events"
	"purifier-console/internal/order"
	"purifier-console/internal/pricing"
	"purifier-console/internal/storage"
	"purifier-console/internal/validation"
)

// LineRequest est une ligne de panier telle que saisie : références seulement.
type LineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	PlanID    string `json:"planId,omitempty"`
}

// Placement est le résultat d'une commande validée.
type Placement struct {
	OrderID     string              `json:"orderId"`
	CustomerRef string              `json:"customerRef"`
	Totals      order.Totals        `json:"totals"`
	Contracts   []contract.Contract `json:"contracts"`
	PlacedAt    time.Time           `json:"placedAt"`
}

type resolvedLine struct {
	input order.LineInput
	plan  *contract.Plan
}

// QuoteProduct chiffre un produit du catalogue avec son offre courante.
func (s *Service) QuoteProduct(ctx context.Context, productID string) (pricing.PriceBreakdown, error) {
	product, err := s.store.Product(ctx, productID)
	if err != nil {
		return pricing.PriceBreakdown{}, err
	}
	offer, err := s.resolveOffer(ctx, product)
	if err != nil {
		return pricing.PriceBreakdown{}, err
	}
	breakdown, err := product.Price(offer)
	if err != nil {
		return pricing.PriceBreakdown{}, s.reject("quote_product", err)
	}
	s.metrics.AddItemsPriced(1)
	return breakdown, nil
}

// QuoteOrder chiffre un panier sans rien enregistrer.
func (s *Service) QuoteOrder(ctx context.Context, lines []LineRequest) (order.Totals, error) {
	resolved, err := s.resolveLines(ctx, lines)
	if err != nil {
		return order.Totals{}, err
	}
	totals, err := order.PriceOrder(inputs(resolved))
	if err != nil {
		return order.Totals{}, s.reject("quote_order", err)
	}
	s.metrics.AddItemsPriced(totals.ItemCount)
	return totals, nil
}

// PlaceOrder chiffre le panier puis ouvre un contrat AMC pour chaque ligne
// accompagnée d'une formule. Les contrats sont enregistrés en un seul lot ;
// les événements ContractCreated et OrderPlaced ne partent qu'une fois le lot
// accepté.
func (s *Service) PlaceOrder(ctx context.Context, customerRef string, lines []LineRequest) (Placement, error) {
	if strings.TrimSpace(customerRef) == "" {
		return Placement{}, s.reject("place_order", validation.Field("customerRef", "obligatoire"))
	}
	resolved, err := s.resolveLines(ctx, lines)
	if err != nil {
		return Placement{}, err
	}
	totals, err := order.PriceOrder(inputs(resolved))
	if err != nil {
		return Placement{}, s.reject("place_order", err)
	}

	now := s.now()
	drafts, err := s.draftContracts(ctx, customerRef, resolved, now)
	if err != nil {
		return Placement{}, err
	}

	placement := Placement{
		OrderID:     s.newID(),
		CustomerRef: customerRef,
		Totals:      totals,
		Contracts:   []contract.Contract{},
		PlacedAt:    now,
	}
	if len(drafts) > 0 {
		stored, err := s.store.CreateContracts(ctx, drafts)
		if err != nil {
			return Placement{}, fmt.Errorf("commande %s: %w", placement.OrderID, err)
		}
		placement.Contracts = stored
	}
	for _, c := range placement.Contracts {
		s.contractCreated(ctx, c, map[string]string{"order_id": placement.OrderID})
	}

	ids := make([]string, 0, len(placement.Contracts))
	for _, c := range placement.Contracts {
		ids = append(ids, c.ID)
	}
	evt := events.OrderPlacedEvent{
		EventID: s.newID(),
		Order: events.OrderSnapshot{
			OrderID:     placement.OrderID,
			CustomerRef: customerRef,
			Totals:      totals,
			ContractIDs: ids,
		},
		OccurredAt: now,
		Metadata:   map[string]string{"source": "console"},
	}
	pubErr := s.publish(ctx, s.topics.Orders, []byte(customerRef), evt, map[string]string{"event_type": "OrderPlaced"})
	s.audit.Record("order.placed", placement.OrderID, evt, pubErr)

	s.metrics.AddItemsPriced(totals.ItemCount)
	s.metrics.IncOrdersPlaced()
	s.logger.Info("Commande enregistrée", map[string]any{
		"order_id":  placement.OrderID,
		"customer":  customerRef,
		"total":     totals.Total.String(),
		"contracts": len(ids),
	})
	return placement, nil
}

// draftContracts prépare les contrats AMC de la commande et refuse ceux qui
// doubleraient un contrat courant du client.
func (s *Service) draftContracts(ctx context.Context, customerRef string, lines []resolvedLine, now time.Time) ([]contract.Contract, error) {
	existing, err := s.store.Contracts(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, c := range existing {
		if c.CustomerRef == customerRef && c.Kind == contract.KindAMC {
			seen[c.ProductRef] = true
		}
	}

	var drafts []contract.Contract
	for i, line := range lines {
		if line.plan == nil {
			continue
		}
		productID := line.input.Product.ID
		if seen[productID] {
			return nil, fmt.Errorf("ligne %d: contrat AMC déjà ouvert pour %s/%s: %w", i, customerRef, productID, storage.ErrDuplicate)
		}
		seen[productID] = true

		in := line.plan.Input(productID, &now)
		in.Kind = contract.KindAMC
		c, err := contract.Create(s.newID(), customerRef, in, now)
		if err != nil {
			return nil, s.reject("place_order", fmt.Errorf("ligne %d: %w", i, err))
		}
		drafts = append(drafts, c)
	}
	return drafts, nil
}

func (s *Service) resolveLines(ctx context.Context, lines []LineRequest) ([]resolvedLine, error) {
	if len(lines) == 0 {
		return nil, s.reject("resolve_lines", validation.Field("lines", "au moins une ligne"))
	}
	out := make([]resolvedLine, 0, len(lines))
	for i, req := range lines {
		product, err := s.store.Product(ctx, req.ProductID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, s.reject("resolve_lines", validation.Fieldf(fmt.Sprintf("lines[%d].productId", i), "produit %q inconnu", req.ProductID))
			}
			return nil, err
		}
		offer, err := s.resolveOffer(ctx, product)
		if err != nil {
			return nil, err
		}

		line := resolvedLine{input: order.LineInput{Product: product, Offer: offer, Quantity: req.Quantity}}
		if req.PlanID != "" {
			field := fmt.Sprintf("lines[%d].planId", i)
			if !slices.Contains(product.AMCPlanIDs, req.PlanID) {
				return nil, s.reject("resolve_lines", validation.Fieldf(field, "formule %q non proposée pour %s", req.PlanID, product.ID))
			}
			plan, err := s.store.Plan(ctx, req.PlanID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, s.reject("resolve_lines", validation.Fieldf(field, "formule %q inconnue", req.PlanID))
				}
				return nil, err
			}
			line.plan = &plan
			line.input.AddOn = &order.AddOn{ID: plan.ID, Name: plan.Name, Price: plan.Price}
		}
		out = append(out, line)
	}
	return out, nil
}

// resolveOffer suit la référence d'offre du produit. Une offre disparue du
// catalogue est ignorée : le produit est vendu sans offre.
func (s *Service) resolveOffer(ctx context.Context, product pricing.Product) (*pricing.Offer, error) {
	if product.OfferID == "" {
		return nil, nil
	}
	offer, err := s.store.Offer(ctx, product.OfferID)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("Offre référencée introuvable", map[string]any{
			"product": product.ID,
			"offer":   product.OfferID,
		})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func inputs(lines []resolvedLine) []order.LineInput {
	out := make([]order.LineInput, len(lines))
	for i, l := range lines {
		out[i] = l.input
	}
	return out
}
