package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	TransactionSettledTopic = "transaction.settled"
	RatesRefreshedTopic     = "rates.refreshed"
)

// Envelope wraps every published payload.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type Publisher interface {
	// Publish delivers payload under topic. key selects the partition.
	Publish(ctx context.Context, topic, key string, payload any) error
	Close() error
}

func newEnvelope(topic string, payload any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:         ulid.Make().String(),
		Type:       topic,
		OccurredAt: now.UTC(),
		Payload:    raw,
	}, nil
}

type TransactionSettled struct {
	TransactionID string    `json:"transaction_id"`
	QuoteID       string    `json:"quote_id"`
	FromCurrency  string    `json:"from_currency"`
	ToCurrency    string    `json:"to_currency"`
	Amount        string    `json:"amount"`
	Converted     string    `json:"converted_amount"`
	Rate          string    `json:"rate"`
	SettledAt     time.Time `json:"settled_at"`
}

type RatesRefreshed struct {
	RunID        string    `json:"run_id"`
	BaseCurrency string    `json:"base_currency"`
	Targets      []string  `json:"targets"`
	ObservedAt   time.Time `json:"observed_at"`
}
