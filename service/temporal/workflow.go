package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/stellarpay/service/db"
	"github.com/brojonat/stellarpay/service/stellar"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// DefaultReconcileTimeout bounds how long a reconcile keeps looking for a hash.
// It is well past the envelope's validity window, so a hash still missing
// after it can no longer land.
const DefaultReconcileTimeout = 5 * time.Minute

// ReconcilePaymentInput identifies a submitted (or possibly submitted) envelope.
// It never carries the signing secret.
type ReconcilePaymentInput struct {
	TransactionHash string        `json:"transaction_hash"`
	Address         string        `json:"address"` // account whose subject the result is published on
	Timeout         time.Duration `json:"timeout"`
}

// ReconcilePaymentResult is the settled view of the payment.
type ReconcilePaymentResult struct {
	TransactionHash string               `json:"transaction_hash"`
	Status          string               `json:"status"` // "confirmed", "failed"
	Transaction     *stellar.Transaction `json:"transaction,omitempty"`
	PaymentsUpdated int64                `json:"payments_updated"`
	Published       bool                 `json:"published"`
	ReconciledAt    time.Time            `json:"reconciled_at"`
	Error           *string              `json:"error,omitempty"`
}

// ReconcilePaymentWorkflow waits for a submitted hash to appear on the ledger,
// then records and publishes the normalized transaction.
//
// The workflow performs these steps:
// 1. Fetch the transaction by hash, retrying until found or the timeout passes (FetchTransaction)
// 2. Store it and settle any payment rows carrying the hash (RecordTransaction)
// 3. Publish it to NATS (PublishTransaction, best effort)
//
// A hash never found before the timeout settles its payments as failed.
func ReconcilePaymentWorkflow(ctx workflow.Context, input ReconcilePaymentInput) (*ReconcilePaymentResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcilePaymentWorkflow started", "hash", input.TransactionHash)

	timeout := input.Timeout
	if timeout <= 0 {
		timeout = DefaultReconcileTimeout
	}

	result := &ReconcilePaymentResult{TransactionHash: input.TransactionHash}

	// Step 1: the ledger may not have closed the envelope's ledger yet, so
	// not-found is retried until the schedule-to-close timeout.
	fetchCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout:    30 * time.Second,
		ScheduleToCloseTimeout: timeout,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			NonRetryableErrorTypes: []string{ErrTypeInvalidHash},
		},
	})

	var txn *stellar.Transaction
	err := workflow.ExecuteActivity(fetchCtx, a.FetchTransaction, FetchTransactionInput{
		TransactionHash: input.TransactionHash,
	}).Get(ctx, &txn)
	if err != nil {
		var appErr *temporalsdk.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == ErrTypeInvalidHash {
			errMsg := "invalid transaction hash"
			result.Error = &errMsg
			result.Status = db.PaymentFailed
			return result, fmt.Errorf("reconcile %s: %w", input.TransactionHash, err)
		}

		logger.Warn("transaction not found before reconcile timeout", "hash", input.TransactionHash, "error", err)
		errMsg := fmt.Sprintf("transaction not found within %s: %v", timeout, err)
		result.Error = &errMsg
		result.Status = db.PaymentFailed
	} else {
		result.Transaction = txn
		result.Status = db.PaymentConfirmed
		if !txn.Successful {
			result.Status = db.PaymentFailed
		}
	}

	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	// Step 2: record
	var recorded *RecordTransactionResult
	err = workflow.ExecuteActivity(actCtx, a.RecordTransaction, RecordTransactionInput{
		TransactionHash: input.TransactionHash,
		Status:          result.Status,
		Transaction:     txn,
		Error:           result.Error,
	}).Get(ctx, &recorded)
	if err != nil {
		logger.Error("failed to record transaction", "hash", input.TransactionHash, "error", err)
		return result, fmt.Errorf("failed to record transaction: %w", err)
	}
	result.PaymentsUpdated = recorded.PaymentsUpdated

	// Step 3: publish
	if txn != nil {
		address := input.Address
		if address == "" {
			address = txn.SenderAddress
		}
		err = workflow.ExecuteActivity(actCtx, a.PublishTransaction, PublishTransactionInput{
			Address:     address,
			Transaction: txn,
		}).Get(ctx, nil)
		if err != nil {
			// The record is already stored; subscribers can catch up from the database.
			logger.Warn("failed to publish reconciled transaction", "hash", input.TransactionHash, "error", err)
		} else {
			result.Published = true
		}
	}

	result.ReconciledAt = workflow.Now(ctx)
	logger.Info("ReconcilePaymentWorkflow completed",
		"hash", input.TransactionHash,
		"status", result.Status,
		"payments_updated", result.PaymentsUpdated,
	)
	return result, nil
}

// ReconcileWorkflowID is the workflow id for a hash; one reconcile runs per hash.
func ReconcileWorkflowID(hash string) string {
	return "reconcile-payment-" + hash
}
