// Package eventbus publishes ledger events to NATS and consumes payment confirmations from it.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"github.com/nats-io/nats.go"
)

const (
	SubjectEntries          = "credits.entries"
	SubjectInconsistencies  = "credits.inconsistencies"
	SubjectPaymentConfirmed = "payments.confirmed"
	SubjectPaymentUnapplied = "payments.unapplied"
	paymentsQueueGroup      = "creditd"
)

// Bus is the minimal publishing surface used by Publisher.
type Bus interface {
	Publish(subject string, data []byte) error
}

// EntryEvent is published after every committed balance change.
type EntryEvent struct {
	UserID         string    `json:"user_id"`
	Operation      string    `json:"operation"`
	EntryType      string    `json:"entry_type"`
	Amount         int64     `json:"amount"`
	BalanceAfter   int64     `json:"balance_after"`
	Reference      string    `json:"reference,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// InconsistencyEvent is published when a refund after a failed paid action could not be applied.
type InconsistencyEvent struct {
	InconsistencyID string    `json:"inconsistency_id"`
	UserID          string    `json:"user_id"`
	Token           string    `json:"token"`
	Amount          int64     `json:"amount"`
	ActionError     string    `json:"action_error"`
	RefundError     string    `json:"refund_error"`
	CreatedAt       time.Time `json:"created_at"`
}

// Publisher encodes events as JSON and sends them on their subjects.
type Publisher struct {
	bus   Bus
	nowFn func() time.Time
}

// NewPublisher wraps bus. A nil bus yields a Publisher that drops events.
func NewPublisher(bus Bus) *Publisher {
	return &Publisher{bus: bus, nowFn: time.Now}
}

func (publisher *Publisher) publish(subject string, event interface{}) error {
	if publisher == nil || publisher.bus == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", subject, err)
	}
	if err := publisher.bus.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishInconsistency sends an alert for a failed compensation.
func (publisher *Publisher) PublishInconsistency(_ context.Context, inconsistency ledger.Inconsistency) error {
	return publisher.publish(SubjectInconsistencies, InconsistencyEvent{
		InconsistencyID: inconsistency.InconsistencyID,
		UserID:          inconsistency.UserID.String(),
		Token:           inconsistency.Token.String(),
		Amount:          inconsistency.Amount.Int64(),
		ActionError:     inconsistency.ActionError,
		RefundError:     inconsistency.RefundError,
		CreatedAt:       time.Unix(inconsistency.CreatedUnixUTC, 0).UTC(),
	})
}

// PublishUnappliedPayment alerts on a confirmed payment that was never credited.
func (publisher *Publisher) PublishUnappliedPayment(_ context.Context, event UnappliedPaymentEvent) error {
	return publisher.publish(SubjectPaymentUnapplied, event)
}

// LogOperation implements ledger.OperationLogger: committed debits and credits become entry
// events. Declined, replayed and failed operations are not published.
func (publisher *Publisher) LogOperation(_ context.Context, entry ledger.OperationLog) {
	if entry.Status != "ok" || entry.Error != nil || entry.EntryType == "" {
		return
	}
	amount := entry.Amount
	if !entry.EntryType.IsCredit() {
		amount = -amount
	}
	_ = publisher.publish(SubjectEntries, EntryEvent{
		UserID:         entry.UserID.String(),
		Operation:      entry.Operation,
		EntryType:      entry.EntryType.String(),
		Amount:         amount,
		BalanceAfter:   entry.BalanceAfter.Int64(),
		Reference:      entry.Reference,
		IdempotencyKey: entry.IdempotencyKey.String(),
		CreatedAt:      publisher.nowFn().UTC(),
	})
}

// NATSBus adapts a NATS connection to Bus.
type NATSBus struct {
	conn *nats.Conn
}

// Connect dials url. An empty url returns a nil connection and no error.
func Connect(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	return nats.Connect(url, nats.Name("creditd"), nats.MaxReconnects(-1))
}

// NewNATSBus wraps conn.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn}
}

func (bus *NATSBus) Publish(subject string, data []byte) error {
	return bus.conn.Publish(subject, data)
}
