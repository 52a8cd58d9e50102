package nats

import (
	"strings"
	"time"

	"github.com/brojonat/stellarpay/service/stellar"
)

// PaymentEvent is a payment published to NATS.
// It goes to the subject "payments.{address}" in JetStream, where address is
// the watched account the payment was observed on.
type PaymentEvent struct {
	Address string `json:"address"`

	// Transaction identifiers
	TransactionHash string `json:"transaction_hash"`
	OperationID     string `json:"operation_id,omitempty"`
	OperationType   string `json:"operation_type"`

	// Transfer details
	SourceAccount string `json:"source_account"`
	Destination   string `json:"destination"`
	Amount        string `json:"amount"`
	Memo          string `json:"memo,omitempty"`
	FeePaid       string `json:"fee_paid,omitempty"`
	Successful    bool   `json:"successful"`

	// Timing information
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromListenerEvent converts an enriched listener notification for publishing.
func FromListenerEvent(ev stellar.PaymentEvent) *PaymentEvent {
	event := &PaymentEvent{
		Address:         ev.Address,
		TransactionHash: ev.TransactionHash,
		OperationID:     ev.ID,
		OperationType:   ev.OperationType,
		SourceAccount:   ev.SourceAccount,
		Destination:     ev.Destination,
		Amount:          ev.Amount,
		Memo:            ev.Memo,
		Successful:      true,
		CreatedAt:       ev.CreatedAt,
		PublishedAt:     time.Now().UTC(),
	}
	if ev.Transaction != nil {
		event.FeePaid = ev.Transaction.FeePaid.String()
		event.Successful = ev.Transaction.Successful
	}
	return event
}

// FromTransaction converts a normalized transaction for publishing on address's subject.
func FromTransaction(address string, txn *stellar.Transaction) *PaymentEvent {
	return &PaymentEvent{
		Address:         address,
		TransactionHash: txn.TransactionHash,
		OperationID:     txn.OperationID,
		OperationType:   txn.OperationType,
		SourceAccount:   txn.SenderAddress,
		Destination:     txn.DestinationAddress,
		Amount:          txn.Amount,
		Memo:            txn.Memo,
		FeePaid:         txn.FeePaid.String(),
		Successful:      txn.Successful,
		CreatedAt:       txn.Timestamp(),
		PublishedAt:     time.Now().UTC(),
	}
}

// MessageID identifies the payment on its subject for JetStream deduplication.
func (e *PaymentEvent) MessageID() string {
	id := e.Address + ":" + strings.ToLower(e.TransactionHash)
	if e.OperationID != "" {
		id += ":" + e.OperationID
	}
	return id
}
