package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"purifier-console/internal/contract"
	"purifier-console/internal/order"
)

// Topics publiés par la console.
const (
	TopicContractEvents    = "contracts.events"
	TopicContractReminders = "contracts.reminders"
	TopicCustomerSummaries = "contracts.summaries"
	TopicOrderEvents       = "orders.events"
	TopicDLQ               = "console.dlq"
)

// ContractEventType capture les transitions publiées dans le flux contrats.
type ContractEventType string

const (
	ContractCreated  ContractEventType = "ContractCreated"
	ContractRenewed  ContractEventType = "ContractRenewed"
	ContractReminder ContractEventType = "ContractReminder"
)

// ContractEvent transporte l'état complet du contrat (Event-Carried State Transfer).
type ContractEvent struct {
	EventID    string                 `json:"event_id"`
	Type       ContractEventType      `json:"type"`
	Contract   contract.Contract      `json:"contract"`
	Entry      *contract.HistoryEntry `json:"entry,omitempty"`
	View       contract.StatusView    `json:"view"`
	OccurredAt time.Time              `json:"occurred_at"`
	Metadata   map[string]string      `json:"metadata,omitempty"`
}

// Key renvoie la clé de partition : un client, un ordre de messages.
func (e ContractEvent) Key() []byte {
	return []byte(e.Contract.CustomerRef)
}

// Encode renvoie la version JSON de l'événement.
func (e ContractEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeContractEvent convertit un flux JSON en événement contrat.
func DecodeContractEvent(payload []byte) (ContractEvent, error) {
	var evt ContractEvent
	err := json.Unmarshal(payload, &evt)
	return evt, err
}

// OrderSnapshot est la commande chiffrée telle que facturée.
type OrderSnapshot struct {
	OrderID     string       `json:"order_id"`
	CustomerRef string       `json:"customer_ref"`
	Totals      order.Totals `json:"totals"`
	ContractIDs []string     `json:"contract_ids,omitempty"`
}

// OrderPlacedEvent est publié à la validation d'une commande.
type OrderPlacedEvent struct {
	EventID    string            `json:"event_id"`
	Order      OrderSnapshot     `json:"order"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Encode renvoie la version JSON de l'événement.
func (e OrderPlacedEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeOrderPlacedEvent convertit un flux JSON en événement commande.
func DecodeOrderPlacedEvent(payload []byte) (OrderPlacedEvent, error) {
	var evt OrderPlacedEvent
	err := json.Unmarshal(payload, &evt)
	return evt, err
}

// CustomerSummaryEvent est l'instantané agrégé par client publié par le projecteur.
type CustomerSummaryEvent struct {
	CustomerRef  string          `json:"customer_ref"`
	Contracts    int             `json:"contracts"`
	Renewals     int             `json:"renewals"`
	Active       int             `json:"active"`
	ExpiringSoon int             `json:"expiring_soon"`
	Expired      int             `json:"expired"`
	TotalValue   decimal.Decimal `json:"total_value"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// Encode renvoie la version JSON de l'agrégat.
func (a CustomerSummaryEvent) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// DecodeCustomerSummaryEvent convertit un flux JSON en agrégat client.
func DecodeCustomerSummaryEvent(payload []byte) (CustomerSummaryEvent, error) {
	var agg CustomerSummaryEvent
	err := json.Unmarshal(payload, &agg)
	return agg, err
}
