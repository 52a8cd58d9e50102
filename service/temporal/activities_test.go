package temporal

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	natspkg "github.com/brojonat/stellarpay/service/nats"
	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Mock Fetcher
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) GetTransactionDetails(ctx context.Context, hash string) (*stellar.Transaction, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stellar.Transaction), args.Error(1)
}

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpsertTransaction(ctx context.Context, txn *stellar.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockStore) UpdatePaymentStatusByHash(ctx context.Context, hash, status string, errMsg *string) (int64, error) {
	args := m.Called(ctx, hash, status, errMsg)
	return args.Get(0).(int64), args.Error(1)
}

// Mock Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishPayment(ctx context.Context, event *natspkg.PaymentEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

const testHash = "3389e9f0f1a65f19736cacf544c2e825313e8447f569233bb8db39aa607c8889"

func testTransaction() *stellar.Transaction {
	return &stellar.Transaction{
		TransactionHash:      testHash,
		OperationID:          "12884905985",
		SenderAddress:        "GAAZI4TCR3TY5OJHCTJC2A4QSY6CJWJH5IAJTGKIN2ER7LBNVKOCCWN7",
		DestinationAddress:   "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
		Amount:               "10.0000000",
		OperationType:        "payment",
		Memo:                 "invoice-00042",
		FeePaid:              decimal.RequireFromString("0.0000100"),
		SourceSequence:       "123457",
		Successful:           true,
		TimestampUnixSeconds: 1700000000,
	}
}

func TestFetchTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		fetcher := new(MockFetcher)
		fetcher.On("GetTransactionDetails", ctx, testHash).Return(testTransaction(), nil)
		a := NewActivities(fetcher, nil, nil, nil, slog.Default())

		txn, err := a.FetchTransaction(ctx, FetchTransactionInput{TransactionHash: testHash})
		require.NoError(t, err)
		assert.Equal(t, "invoice-00042", txn.Memo)
		fetcher.AssertExpectations(t)
	})

	t.Run("not found is retryable", func(t *testing.T) {
		fetcher := new(MockFetcher)
		notFound := &stellar.NormalizationError{Hash: testHash, Err: &stellar.ProblemError{Problem: stellar.Problem{Status: 404}}}
		fetcher.On("GetTransactionDetails", ctx, testHash).Return(nil, notFound)
		a := NewActivities(fetcher, nil, nil, nil, slog.Default())

		_, err := a.FetchTransaction(ctx, FetchTransactionInput{TransactionHash: testHash})
		require.Error(t, err)
		var appErr *temporalsdk.ApplicationError
		assert.False(t, errors.As(err, &appErr))
	})

	t.Run("invalid hash is not retryable", func(t *testing.T) {
		fetcher := new(MockFetcher)
		fetcher.On("GetTransactionDetails", ctx, "zz").Return(nil, &stellar.InvalidHashError{Hash: "zz"})
		a := NewActivities(fetcher, nil, nil, nil, slog.Default())

		_, err := a.FetchTransaction(ctx, FetchTransactionInput{TransactionHash: "zz"})
		require.Error(t, err)
		var appErr *temporalsdk.ApplicationError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, ErrTypeInvalidHash, appErr.Type())
		assert.True(t, appErr.NonRetryable())
	})
}

func TestRecordTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("stores transaction and settles payments", func(t *testing.T) {
		store := new(MockStore)
		txn := testTransaction()
		store.On("UpsertTransaction", ctx, txn).Return(nil)
		store.On("UpdatePaymentStatusByHash", ctx, testHash, "confirmed", (*string)(nil)).Return(int64(1), nil)
		a := NewActivities(new(MockFetcher), store, nil, nil, slog.Default())

		result, err := a.RecordTransaction(ctx, RecordTransactionInput{
			TransactionHash: testHash,
			Status:          "confirmed",
			Transaction:     txn,
		})
		require.NoError(t, err)
		assert.True(t, result.Stored)
		assert.Equal(t, int64(1), result.PaymentsUpdated)
		store.AssertExpectations(t)
	})

	t.Run("missing transaction only settles payments", func(t *testing.T) {
		store := new(MockStore)
		msg := "transaction not found"
		store.On("UpdatePaymentStatusByHash", ctx, testHash, "failed", &msg).Return(int64(2), nil)
		a := NewActivities(new(MockFetcher), store, nil, nil, slog.Default())

		result, err := a.RecordTransaction(ctx, RecordTransactionInput{
			TransactionHash: testHash,
			Status:          "failed",
			Error:           &msg,
		})
		require.NoError(t, err)
		assert.False(t, result.Stored)
		assert.Equal(t, int64(2), result.PaymentsUpdated)
		store.AssertNotCalled(t, "UpsertTransaction", mock.Anything, mock.Anything)
	})

	t.Run("store error", func(t *testing.T) {
		store := new(MockStore)
		store.On("UpsertTransaction", ctx, mock.Anything).Return(errors.New("connection refused"))
		a := NewActivities(new(MockFetcher), store, nil, nil, slog.Default())

		_, err := a.RecordTransaction(ctx, RecordTransactionInput{
			TransactionHash: testHash,
			Status:          "confirmed",
			Transaction:     testTransaction(),
		})
		assert.Error(t, err)
	})

	t.Run("no store", func(t *testing.T) {
		a := NewActivities(new(MockFetcher), nil, nil, nil, slog.Default())
		result, err := a.RecordTransaction(ctx, RecordTransactionInput{TransactionHash: testHash})
		require.NoError(t, err)
		assert.False(t, result.Stored)
	})
}

func TestPublishTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes on the address subject", func(t *testing.T) {
		pub := new(MockPublisher)
		pub.On("PublishPayment", ctx, mock.MatchedBy(func(e *natspkg.PaymentEvent) bool {
			return e.Address == "GADDR" && e.TransactionHash == testHash && e.Memo == "invoice-00042"
		})).Return(nil)
		a := NewActivities(new(MockFetcher), nil, pub, nil, slog.Default())

		err := a.PublishTransaction(ctx, PublishTransactionInput{Address: "GADDR", Transaction: testTransaction()})
		require.NoError(t, err)
		pub.AssertExpectations(t)
	})

	t.Run("publisher error", func(t *testing.T) {
		pub := new(MockPublisher)
		pub.On("PublishPayment", ctx, mock.Anything).Return(errors.New("nats down"))
		a := NewActivities(new(MockFetcher), nil, pub, nil, slog.Default())

		err := a.PublishTransaction(ctx, PublishTransactionInput{Address: "GADDR", Transaction: testTransaction()})
		assert.Error(t, err)
	})

	t.Run("no publisher", func(t *testing.T) {
		a := NewActivities(new(MockFetcher), nil, nil, nil, slog.Default())
		assert.NoError(t, a.PublishTransaction(ctx, PublishTransactionInput{Address: "GADDR", Transaction: testTransaction()}))
	})
}
