package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentLifecycle(t *testing.T) {
	store := NewTestStore(t)

	ctx := context.Background()

	p, err := store.CreatePayment(ctx, CreatePaymentParams{
		SourceAddress:      "GSOURCE",
		DestinationAddress: "GDEST",
		Amount:             "12.5",
		Memo:               "deposit-00042",
	})
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, p.Status)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("12.5")))
	assert.Nil(t, p.TransactionHash)
	assert.WithinDuration(t, time.Now(), p.CreatedAt, 5*time.Second)

	t.Run("mark submitted", func(t *testing.T) {
		updated, err := store.MarkPaymentSubmitted(ctx, MarkSubmittedParams{
			ID:              p.ID,
			TransactionHash: "abc123",
			OperationKind:   "payment",
			Sequence:        42,
		})
		require.NoError(t, err)
		assert.Equal(t, PaymentSubmitted, updated.Status)
		require.NotNil(t, updated.TransactionHash)
		assert.Equal(t, "abc123", *updated.TransactionHash)
		require.NotNil(t, updated.Sequence)
		assert.Equal(t, int64(42), *updated.Sequence)
	})

	t.Run("confirm by hash", func(t *testing.T) {
		n, err := store.UpdatePaymentStatusByHash(ctx, "abc123", PaymentConfirmed, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := store.GetPayment(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, PaymentConfirmed, got.Status)
	})

	t.Run("list by status", func(t *testing.T) {
		confirmed, err := store.ListPayments(ctx, PaymentConfirmed, 10, 0)
		require.NoError(t, err)
		assert.Len(t, confirmed, 1)

		pending, err := store.ListPayments(ctx, PaymentPending, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestUpdatePaymentStatus_KeepsHash(t *testing.T) {
	store := NewTestStore(t)

	ctx := context.Background()
	p, err := store.CreatePayment(ctx, CreatePaymentParams{SourceAddress: "GS", DestinationAddress: "GD", Amount: "1"})
	require.NoError(t, err)

	hash := "feedface"
	msg := "read: connection reset"
	updated, err := store.UpdatePaymentStatus(ctx, p.ID, PaymentUnknown, &hash, &msg)
	require.NoError(t, err)
	assert.Equal(t, PaymentUnknown, updated.Status)
	assert.Equal(t, hash, *updated.TransactionHash)
	assert.Equal(t, msg, *updated.Error)
}

func TestGetPayment_NotFound(t *testing.T) {
	store := NewTestStore(t)

	_, err := store.GetPayment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertTransaction(t *testing.T) {
	store := NewTestStore(t)

	ctx := context.Background()
	txn := &stellar.Transaction{
		TransactionHash:      "abc123",
		OperationID:          "12884905985",
		SenderAddress:        "GSENDER",
		DestinationAddress:   "GRECEIVER",
		Amount:               "25.0000000",
		OperationType:        "payment",
		Memo:                 "deposit-00042",
		FeePaid:              decimal.New(100, -7),
		SourceSequence:       "4294967297",
		Successful:           true,
		TimestampUnixSeconds: 1709294400.5,
		RawRecordJSON:        json.RawMessage(`{"id":"12884905985","amount":"25.0000000"}`),
	}

	require.NoError(t, store.UpsertTransaction(ctx, txn))

	got, err := store.GetTransaction(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "GRECEIVER", got.DestinationAddress)
	assert.Equal(t, "deposit-00042", got.Memo)
	assert.True(t, got.FeePaid.Equal(decimal.RequireFromString("0.00001")))
	assert.InDelta(t, 1709294400.5, got.TimestampUnixSeconds, 1e-3)
	assert.JSONEq(t, string(txn.RawRecordJSON), string(got.RawRecordJSON))

	// Same operation again only refreshes mutable fields.
	txn.Memo = "corrected-memo"
	require.NoError(t, store.UpsertTransaction(ctx, txn))

	list, err := store.ListTransactionsByAccount(ctx, "GSENDER", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "corrected-memo", list[0].Memo)

	list, err = store.ListTransactionsByAccount(ctx, "GRECEIVER", 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = store.GetTransaction(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
