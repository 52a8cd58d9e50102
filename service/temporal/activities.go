package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/stellarpay/service/metrics"
	natspkg "github.com/brojonat/stellarpay/service/nats"
	"github.com/brojonat/stellarpay/service/stellar"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// ErrTypeInvalidHash marks a hash the ledger rejects as malformed. It is not retried.
const ErrTypeInvalidHash = "InvalidHash"

// FetchTransactionInput contains parameters for the FetchTransaction activity.
type FetchTransactionInput struct {
	TransactionHash string `json:"transaction_hash"`
}

// RecordTransactionInput contains parameters for the RecordTransaction activity.
// Transaction is nil when the hash was never found.
type RecordTransactionInput struct {
	TransactionHash string               `json:"transaction_hash"`
	Status          string               `json:"status"`
	Transaction     *stellar.Transaction `json:"transaction,omitempty"`
	Error           *string              `json:"error,omitempty"`
}

// RecordTransactionResult contains the result of the RecordTransaction activity.
type RecordTransactionResult struct {
	Stored          bool  `json:"stored"`
	PaymentsUpdated int64 `json:"payments_updated"`
}

// PublishTransactionInput contains parameters for the PublishTransaction activity.
type PublishTransactionInput struct {
	Address     string               `json:"address"`
	Transaction *stellar.Transaction `json:"transaction"`
}

// TransactionFetcher looks up a normalized transaction by hash.
type TransactionFetcher interface {
	GetTransactionDetails(ctx context.Context, hash string) (*stellar.Transaction, error)
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	UpsertTransaction(ctx context.Context, txn *stellar.Transaction) error
	UpdatePaymentStatusByHash(ctx context.Context, hash, status string, errMsg *string) (int64, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishPayment(ctx context.Context, event *natspkg.PaymentEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Store and publisher are optional; a nil one skips its step.
type Activities struct {
	fetcher   TransactionFetcher
	store     StoreInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	fetcher TransactionFetcher,
	store StoreInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		fetcher:   fetcher,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// FetchTransaction looks the hash up on the ledger. Not-found is returned as a
// retryable error; a malformed hash is not retryable.
func (a *Activities) FetchTransaction(ctx context.Context, input FetchTransactionInput) (txn *stellar.Transaction, err error) {
	defer a.observe("FetchTransaction", time.Now(), &err)

	txn, err = a.fetcher.GetTransactionDetails(ctx, input.TransactionHash)
	if err != nil {
		if stellar.IsInvalidHash(err) {
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidHash, err)
		}
		a.logger.DebugContext(ctx, "transaction not available yet",
			"hash", input.TransactionHash,
			"error", err,
		)
		return nil, fmt.Errorf("fetch transaction %s: %w", input.TransactionHash, err)
	}
	return txn, nil
}

// RecordTransaction stores the normalized transaction and settles payments carrying its hash.
func (a *Activities) RecordTransaction(ctx context.Context, input RecordTransactionInput) (result *RecordTransactionResult, err error) {
	defer a.observe("RecordTransaction", time.Now(), &err)

	result = &RecordTransactionResult{}
	if a.store == nil {
		a.logger.DebugContext(ctx, "no store configured, skipping record", "hash", input.TransactionHash)
		return result, nil
	}

	if input.Transaction != nil {
		if err := a.store.UpsertTransaction(ctx, input.Transaction); err != nil {
			return nil, err
		}
		result.Stored = true
	}

	n, err := a.store.UpdatePaymentStatusByHash(ctx, input.TransactionHash, input.Status, input.Error)
	if err != nil {
		return nil, err
	}
	result.PaymentsUpdated = n

	a.logger.InfoContext(ctx, "reconciled payment",
		"hash", input.TransactionHash,
		"status", input.Status,
		"payments_updated", n,
	)
	return result, nil
}

// PublishTransaction publishes the transaction on the address's subject.
func (a *Activities) PublishTransaction(ctx context.Context, input PublishTransactionInput) (err error) {
	defer a.observe("PublishTransaction", time.Now(), &err)

	if a.publisher == nil || input.Transaction == nil {
		return nil
	}
	return a.publisher.PublishPayment(ctx, natspkg.FromTransaction(input.Address, input.Transaction))
}

func (a *Activities) observe(activity string, start time.Time, err *error) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds(), *err)
}
