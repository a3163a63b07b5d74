package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purifier-console/internal/contract"
	"purifier-console/internal/events"
	"purifier-console/internal/lock"
	"purifier-console/internal/logging"
	"purifier-console/internal/metrics"
	"purifier-console/internal/pricing"
	"purifier-console/internal/storage"
	"purifier-console/internal/validation"
)

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type message struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, message{topic: topic, key: string(key), value: value, headers: headers})
	return nil
}

func (p *recordingPublisher) onTopic(topic string) []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []message
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	svc     *Service
	store   *storage.MemoryStore
	pub     *recordingPublisher
	counter *metrics.Counters
	audit   *bytes.Buffer
	locker  *lock.LocalLocker
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.PutOffer(ctx, pricing.Offer{
		ID:                "diwali",
		Name:              "Diwali",
		Discount:          pricing.Percentage{Rate: d("5")},
		MinOrderAmount:    decimal.NewNullDecimal(d("5000")),
		MaxDiscountAmount: decimal.NewNullDecimal(d("300")),
		IsActive:          true,
	}))
	require.NoError(t, store.PutProduct(ctx, pricing.Product{
		ID:              "ro-classic",
		Name:            "RO Classic",
		BasePrice:       d("10000"),
		DiscountPercent: d("10"),
		OfferID:         "diwali",
		AMCPlanIDs:      []string{"amc-silver"},
	}))
	require.NoError(t, store.PutProduct(ctx, pricing.Product{
		ID:        "filter",
		Name:      "Sediment filter",
		BasePrice: d("450"),
		OfferID:   "retired-offer",
	}))
	require.NoError(t, store.PutPlan(ctx, contract.Plan{
		ID:             "amc-silver",
		Name:           "AMC Silver",
		Type:           "comprehensive",
		Kind:           contract.KindAMC,
		Price:          d("2999"),
		DurationMonths: 12,
		ServicesTotal:  3,
	}))

	var seq int
	var mu sync.Mutex
	f := &fixture{
		store:   store,
		pub:     &recordingPublisher{},
		counter: metrics.NewCounters(),
		audit:   &bytes.Buffer{},
		locker:  lock.NewLocalLocker(),
	}
	svc, err := New(Deps{
		Store:     store,
		Publisher: f.pub,
		Locker:    f.locker,
		Logger:    logging.New(&bytes.Buffer{}, "console-test"),
		Audit:     logging.NewAuditLog(f.audit),
		Metrics:   f.counter,
		Clock:     func() time.Time { return now },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) seedContract(t *testing.T, customer string, start time.Time) ContractView {
	t.Helper()
	v, err := f.svc.CreateContract(context.Background(), customer, contract.PlanInput{
		Kind:       contract.KindAMC,
		ProductRef: "ro-classic",
		RenewalInput: contract.RenewalInput{
			PlanName:       "AMC Silver",
			PlanType:       "comprehensive",
			StartDate:      &start,
			DurationMonths: 12,
			Amount:         d("2999"),
			AmountPaid:     d("1000"),
			ServicesTotal:  3,
		},
	})
	require.NoError(t, err)
	return v
}

func renewalInput() contract.RenewalInput {
	return contract.RenewalInput{
		PlanName:       "AMC Gold",
		PlanType:       "comprehensive",
		DurationMonths: 12,
		Amount:         d("4999"),
		AmountPaid:     d("4999"),
		ServicesTotal:  4,
		PartsIncluded:  true,
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestQuoteProductResolvesOffer(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.QuoteProduct(context.Background(), "ro-classic")
	require.NoError(t, err)
	assert.True(t, got.FinalPrice.Equal(d("8700")), "final price %s", got.FinalPrice)
	require.NotNil(t, got.AppliedOffer)
	assert.Equal(t, "diwali", got.AppliedOffer.ID)
	assert.EqualValues(t, 1, f.counter.Snapshot()["items_priced"])
}

func TestQuoteProductMissingOfferIsIgnored(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.QuoteProduct(context.Background(), "filter")
	require.NoError(t, err)
	assert.True(t, got.FinalPrice.Equal(d("450")))
	assert.Nil(t, got.AppliedOffer)
}

func TestQuoteProductUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.QuoteProduct(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQuoteOrderDoesNotPersist(t *testing.T) {
	f := newFixture(t)

	totals, err := f.svc.QuoteOrder(context.Background(), []LineRequest{
		{ProductID: "ro-classic", Quantity: 1, PlanID: "amc-silver"},
		{ProductID: "filter", Quantity: 2},
	})
	require.NoError(t, err)

	assert.True(t, totals.Total.Equal(d("12599")), "total %s", totals.Total)
	assert.True(t, totals.AddOnTotal.Equal(d("2999")))
	assert.Equal(t, 3, totals.ItemCount)

	all, err := f.store.Contracts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.pub.msgs)
}

func TestQuoteOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		lines []LineRequest
		field string
	}{
		{"empty", nil, "lines"},
		{"unknown product", []LineRequest{{ProductID: "nope", Quantity: 1}}, "lines[0].productId"},
		{"plan not offered", []LineRequest{{ProductID: "filter", Quantity: 1, PlanID: "amc-silver"}}, "lines[0].planId"},
		{"zero quantity", []LineRequest{{ProductID: "filter", Quantity: 0}}, "quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.QuoteOrder(ctx, tt.lines)
			require.ErrorIs(t, err, validation.ErrInvalid)
			field, ok := validation.FieldOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.field, field)
		})
	}
	assert.EqualValues(t, len(tests), f.counter.Snapshot()["validation_failures"])
}

func TestPlaceOrderCreatesAMCContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	placement, err := f.svc.PlaceOrder(ctx, "cust-42", []LineRequest{
		{ProductID: "ro-classic", Quantity: 1, PlanID: "amc-silver"},
		{ProductID: "filter", Quantity: 1},
	})
	require.NoError(t, err)

	assert.True(t, placement.Totals.Total.Equal(d("12149")), "total %s", placement.Totals.Total)
	require.Len(t, placement.Contracts, 1)
	c := placement.Contracts[0]
	assert.Equal(t, "cust-42", c.CustomerRef)
	assert.Equal(t, "ro-classic", c.ProductRef)
	assert.Equal(t, contract.KindAMC, c.Kind)
	assert.Equal(t, "AMC Silver", c.PlanName)
	assert.Equal(t, 1, c.Version)
	assert.Equal(t, now.AddDate(1, 0, 0), c.EndDate)
	assert.Equal(t, 3, c.ServicesTotal)

	created := f.pub.onTopic(events.TopicContractEvents)
	require.Len(t, created, 1)
	evt, err := events.DecodeContractEvent(created[0].value)
	require.NoError(t, err)
	assert.Equal(t, events.ContractCreated, evt.Type)
	assert.Equal(t, placement.OrderID, evt.Metadata["order_id"])
	assert.Equal(t, "cust-42", created[0].key)

	orders := f.pub.onTopic(events.TopicOrderEvents)
	require.Len(t, orders, 1)
	placed, err := events.DecodeOrderPlacedEvent(orders[0].value)
	require.NoError(t, err)
	assert.Equal(t, placement.OrderID, placed.Order.OrderID)
	assert.Equal(t, []string{c.ID}, placed.Order.ContractIDs)

	snap := f.counter.Snapshot()
	assert.EqualValues(t, 1, snap["orders_placed"])
	assert.EqualValues(t, 1, snap["contracts_created"])
	assert.Contains(t, f.audit.String(), `"event_type":"order.placed"`)
}

func TestPlaceOrderRejectsSecondAMCForSameProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lines := []LineRequest{{ProductID: "ro-classic", Quantity: 1, PlanID: "amc-silver"}}

	_, err := f.svc.PlaceOrder(ctx, "cust-42", lines)
	require.NoError(t, err)

	_, err = f.svc.PlaceOrder(ctx, "cust-42", lines)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	_, err = f.svc.PlaceOrder(ctx, "cust-7", lines)
	assert.NoError(t, err, "another customer may buy the same plan")
}

func TestPlaceOrderRequiresCustomer(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PlaceOrder(context.Background(), " ", []LineRequest{{ProductID: "filter", Quantity: 1}})
	field, ok := validation.FieldOf(err)
	require.True(t, ok)
	assert.Equal(t, "customerRef", field)
}

func TestPlaceOrderPublishFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	placement, err := f.svc.PlaceOrder(context.Background(), "cust-42", []LineRequest{{ProductID: "ro-classic", Quantity: 1, PlanID: "amc-silver"}})
	require.NoError(t, err)
	require.Len(t, placement.Contracts, 1)

	stored, err := f.store.Contract(context.Background(), placement.Contracts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "cust-42", stored.CustomerRef)
	assert.Contains(t, f.audit.String(), `"published":false`)
	assert.Contains(t, f.audit.String(), "broker down")
}

// flakyStore refuse la seconde insertion d'un lot, comme une transaction
// annulée en cours de route.
type flakyStore struct {
	*storage.MemoryStore
	failing bool
}

func (s *flakyStore) CreateContracts(ctx context.Context, batch []contract.Contract) ([]contract.Contract, error) {
	if s.failing && len(batch) > 1 {
		return nil, errors.New("db down")
	}
	return s.MemoryStore.CreateContracts(ctx, batch)
}

func TestPlaceOrderStoreFailureLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.PutProduct(ctx, pricing.Product{
		ID:         "uv-compact",
		Name:       "UV Compact",
		BasePrice:  d("8000"),
		AMCPlanIDs: []string{"amc-silver"},
	}))

	store := &flakyStore{MemoryStore: f.store, failing: true}
	svc, err := New(Deps{
		Store:     store,
		Publisher: f.pub,
		Locker:    f.locker,
		Audit:     logging.NewAuditLog(f.audit),
		Metrics:   f.counter,
		Clock:     func() time.Time { return now },
	})
	require.NoError(t, err)

	lines := []LineRequest{
		{ProductID: "ro-classic", Quantity: 1, PlanID: "amc-silver"},
		{ProductID: "uv-compact", Quantity: 1, PlanID: "amc-silver"},
	}
	_, err = svc.PlaceOrder(ctx, "cust-42", lines)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	all, err := f.store.Contracts(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.pub.onTopic(events.TopicContractEvents))
	assert.Empty(t, f.pub.onTopic(events.TopicOrderEvents))
	assert.EqualValues(t, 0, f.counter.Snapshot()["orders_placed"])

	store.failing = false
	placement, err := svc.PlaceOrder(ctx, "cust-42", lines)
	require.NoError(t, err, "the same order goes through once the store recovers")
	assert.Len(t, placement.Contracts, 2)
	assert.Len(t, f.pub.onTopic(events.TopicContractEvents), 2)
	assert.Len(t, f.pub.onTopic(events.TopicOrderEvents), 1)
}

func TestRenewContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.seedContract(t, "cust-42", time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))
	require.Equal(t, contract.StatusExpiringSoon, created.Status.Status)

	got, err := f.svc.RenewContract(ctx, created.ID, 1, renewalInput())
	require.NoError(t, err)

	assert.Equal(t, 2, got.Contract.Version)
	assert.Equal(t, "AMC Gold", got.Contract.PlanName)
	assert.Equal(t, now, got.Contract.StartDate)
	assert.Equal(t, now.AddDate(1, 0, 0), got.Contract.EndDate)
	assert.Equal(t, contract.PaymentPaid, got.Contract.PaymentStatus)
	require.Len(t, got.Contract.History, 1)
	assert.Equal(t, "AMC Silver", got.Entry.PlanName)
	assert.Equal(t, contract.StatusExpiringSoon, got.Entry.Status)

	history, err := f.svc.ContractHistory(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []contract.HistoryEntry{got.Entry}, history)

	renewed := f.pub.onTopic(events.TopicContractEvents)
	require.Len(t, renewed, 2)
	evt, err := events.DecodeContractEvent(renewed[1].value)
	require.NoError(t, err)
	assert.Equal(t, events.ContractRenewed, evt.Type)
	require.NotNil(t, evt.Entry)
	assert.Equal(t, got.Entry.ID, evt.Entry.ID)
	assert.Equal(t, "2", renewed[1].headers["version"])
	assert.EqualValues(t, 1, f.counter.Snapshot()["renewals"])
}

func TestRenewContractStaleVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.seedContract(t, "cust-42", time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.RenewContract(ctx, created.ID, 1, renewalInput())
	require.NoError(t, err)

	_, err = f.svc.RenewContract(ctx, created.ID, 1, renewalInput())
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	c, err := f.store.Contract(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, c.History, 1, "rejected renewal leaves history untouched")
	assert.EqualValues(t, 1, f.counter.Snapshot()["renewal_conflicts"])
}

func TestRenewContractLockedElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.seedContract(t, "cust-42", time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))

	release, err := f.locker.Acquire(ctx, renewalLockPrefix+created.ID, time.Minute)
	require.NoError(t, err)

	_, err = f.svc.RenewContract(ctx, created.ID, 0, renewalInput())
	assert.ErrorIs(t, err, lock.ErrLocked)

	require.NoError(t, release(ctx))
	_, err = f.svc.RenewContract(ctx, created.ID, 0, renewalInput())
	assert.NoError(t, err)
}

func TestRenewContractConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.seedContract(t, "cust-42", time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.RenewContract(ctx, created.ID, 1, renewalInput()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	c, err := f.store.Contract(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Version)
	assert.Len(t, c.History, 1)
}

func TestRenewContractValidationAndNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.seedContract(t, "cust-42", time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))

	in := renewalInput()
	in.DurationMonths = 0
	_, err := f.svc.RenewContract(ctx, created.ID, 0, in)
	field, ok := validation.FieldOf(err)
	require.True(t, ok)
	assert.Equal(t, "durationMonths", field)

	_, err = f.svc.RenewContract(ctx, "missing", 0, renewalInput())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.svc.RenewContract(ctx, created.ID, -1, renewalInput())
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestListContractsAndDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiring := f.seedContract(t, "cust-1", time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))
	f.seedContract(t, "cust-2", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f.seedContract(t, "cust-3", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.CreateContract(ctx, "cust-4", contract.PlanInput{
		Kind:       contract.KindRental,
		ProductRef: "ro-classic",
		RenewalInput: contract.RenewalInput{
			PlanName:       "Rental monthly",
			DurationMonths: 1,
			Amount:         d("499"),
			AmountPaid:     d("499"),
		},
	})
	require.NoError(t, err)

	all, err := f.svc.ListContracts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	soon, err := f.svc.ExpiringContracts(ctx)
	require.NoError(t, err)
	require.Len(t, soon, 2, "the one-month rental also ends within 30 days")
	assert.Equal(t, expiring.ID, soon[0].ID)

	expired, err := f.svc.ListContracts(ctx, contract.StatusExpired)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "cust-2", expired[0].CustomerRef)

	dash, err := f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, dash.Total)
	assert.Equal(t, 1, dash.Active)
	assert.Equal(t, 2, dash.ExpiringSoon)
	assert.Equal(t, 1, dash.Expired)
	assert.True(t, dash.AMCValue.Equal(d("8997")))
	assert.True(t, dash.RentalValue.Equal(d("499")))
	assert.True(t, dash.Outstanding.Equal(d("5997")))
	assert.Equal(t, now, dash.GeneratedAt)
}

func TestContractStatusView(t *testing.T) {
	f := newFixture(t)
	created := f.seedContract(t, "cust-42", time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))

	v, err := f.svc.ContractStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 19, v.Status.DaysLeft)
	assert.True(t, v.Balance.Equal(d("1999")))
	assert.False(t, v.Overage)

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `"customerRef":"cust-42"`))
	assert.True(t, strings.Contains(string(raw), `"status":{`))
}

func TestSendReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedContract(t, "cust-1", time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))
	f.seedContract(t, "cust-2", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f.seedContract(t, "cust-3", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	sent, err := f.svc.SendReminders(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	msgs := f.pub.onTopic(events.TopicContractReminders)
	require.Len(t, msgs, 1)
	evt, err := events.DecodeContractEvent(msgs[0].value)
	require.NoError(t, err)
	assert.Equal(t, events.ContractReminder, evt.Type)
	assert.Equal(t, "cust-1", evt.Contract.CustomerRef)
	assert.Equal(t, "19", evt.Metadata["days_left"])

	sent, err = f.svc.SendReminders(ctx, 365)
	require.NoError(t, err)
	assert.Equal(t, 2, sent, "expired contracts are never reminded")
}
