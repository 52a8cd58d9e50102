package stellar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockQuerier struct {
	tx      *TransactionRecord
	ops     []OperationRecord
	txErr   error
	opsErr  error
	txCalls []string
}

func (m *mockQuerier) TransactionDetail(ctx context.Context, hash string) (*TransactionRecord, error) {
	m.txCalls = append(m.txCalls, hash)
	if m.txErr != nil {
		return nil, m.txErr
	}
	return m.tx, nil
}

func (m *mockQuerier) TransactionOperations(ctx context.Context, hash string) ([]OperationRecord, error) {
	if m.opsErr != nil {
		return nil, m.opsErr
	}
	return m.ops, nil
}

const paymentRecordJSON = `{
  "id": "12884905985",
  "paging_token": "12884905985",
  "transaction_successful": true,
  "source_account": "GSENDER",
  "type": "payment",
  "created_at": "2024-03-01T12:00:00.5Z",
  "transaction_hash": "ABCDEF0123",
  "asset_type": "native",
  "from": "GSENDER",
  "to": "GRECEIVER",
  "amount": "25.0000000"
}`

const createAccountRecordJSON = `{
  "id": "12884905986",
  "paging_token": "12884905986",
  "transaction_successful": true,
  "source_account": "GFUNDER",
  "type": "create_account",
  "created_at": "2024-03-01T12:00:00Z",
  "transaction_hash": "abcdef0456",
  "starting_balance": "100.0000000",
  "funder": "GFUNDER",
  "account": "GNEWACCOUNT"
}`

func parentTx() TransactionRecord {
	return TransactionRecord{
		Hash:                  "abcdef0123",
		Successful:            true,
		SourceAccountSequence: "4294967297",
		FeeCharged:            100,
		MemoType:              "text",
		Memo:                  "deposit-00042",
	}
}

func TestNormalize_Payment(t *testing.T) {
	op, err := ParseOperationRecord([]byte(paymentRecordJSON))
	require.NoError(t, err)

	txn, err := Normalize(op, parentTx())
	require.NoError(t, err)

	assert.Equal(t, "ABCDEF0123", txn.TransactionHash)
	assert.Equal(t, "GSENDER", txn.SenderAddress)
	assert.Equal(t, "GRECEIVER", txn.DestinationAddress)
	assert.Equal(t, "25.0000000", txn.Amount)
	assert.Equal(t, "payment", txn.OperationType)
	assert.Equal(t, "deposit-00042", txn.Memo)
	assert.Equal(t, "4294967297", txn.SourceSequence)
	assert.True(t, txn.Successful)
	assert.InDelta(t, 1709294400.5, txn.TimestampUnixSeconds, 1e-6)
	assert.JSONEq(t, paymentRecordJSON, string(txn.RawRecordJSON))
}

func TestNormalize_CreateAccount(t *testing.T) {
	op, err := ParseOperationRecord([]byte(createAccountRecordJSON))
	require.NoError(t, err)

	txn, err := Normalize(op, parentTx())
	require.NoError(t, err)

	assert.Equal(t, "GNEWACCOUNT", txn.DestinationAddress)
	assert.Equal(t, "100.0000000", txn.Amount)
	assert.Equal(t, "create_account", txn.OperationType)
}

func TestNormalize_FeeScaling(t *testing.T) {
	op, err := ParseOperationRecord([]byte(paymentRecordJSON))
	require.NoError(t, err)

	txn, err := Normalize(op, parentTx())
	require.NoError(t, err)

	assert.True(t, txn.FeePaid.Equal(decimal.RequireFromString("0.0000100")), "fee was %s", txn.FeePaid)
}

func TestNormalize_UnsupportedOperation(t *testing.T) {
	op := OperationRecord{TransactionHash: "abc", Type: "manage_data", CreatedAt: time.Now()}

	_, err := Normalize(op, parentTx())
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestTransactionRecord_FeeChargedAsString(t *testing.T) {
	var s Stroops
	require.NoError(t, s.UnmarshalJSON([]byte(`"5000"`)))
	assert.Equal(t, Stroops(5000), s)

	require.NoError(t, s.UnmarshalJSON([]byte(`200`)))
	assert.Equal(t, Stroops(200), s)

	assert.Error(t, s.UnmarshalJSON([]byte(`"lots"`)))
}

func TestParseOperationRecord_RequiresHash(t *testing.T) {
	_, err := ParseOperationRecord([]byte(`{"id":"1","type":"payment"}`))
	assert.Error(t, err)

	_, err = ParseOperationRecord([]byte(`not json`))
	assert.Error(t, err)
}

func TestNormalizer_EnrichLowercasesHash(t *testing.T) {
	tx := parentTx()
	q := &mockQuerier{tx: &tx}
	n := NewNormalizer(q, nil)

	op, err := ParseOperationRecord([]byte(paymentRecordJSON))
	require.NoError(t, err)

	txn, err := n.Enrich(context.Background(), op)
	require.NoError(t, err)

	assert.Equal(t, []string{"abcdef0123"}, q.txCalls)
	assert.Equal(t, "deposit-00042", txn.Memo)
}

func TestNormalizer_EnrichFailureYieldsNoRecord(t *testing.T) {
	q := &mockQuerier{txErr: errors.New("connection reset")}
	n := NewNormalizer(q, nil)

	op, err := ParseOperationRecord([]byte(paymentRecordJSON))
	require.NoError(t, err)

	txn, err := n.Enrich(context.Background(), op)
	assert.Nil(t, txn)

	var nerr *NormalizationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "abcdef0123", nerr.Hash)
}

func TestGetTransactionDetails_FirstOperation(t *testing.T) {
	first, err := ParseOperationRecord([]byte(paymentRecordJSON))
	require.NoError(t, err)
	second, err := ParseOperationRecord([]byte(createAccountRecordJSON))
	require.NoError(t, err)

	tx := parentTx()
	n := NewNormalizer(&mockQuerier{tx: &tx, ops: []OperationRecord{first, second}}, nil)

	txn, err := n.GetTransactionDetails(context.Background(), "ABCDEF0123")
	require.NoError(t, err)
	assert.Equal(t, "GRECEIVER", txn.DestinationAddress)
}

func TestGetTransactionDetails_InvalidHash(t *testing.T) {
	perr := &ProblemError{Problem{
		Status: 400,
		Title:  "Bad Request",
		Extras: map[string]any{"invalid_field": "tx_id"},
	}}
	n := NewNormalizer(&mockQuerier{opsErr: perr}, nil)

	_, err := n.GetTransactionDetails(context.Background(), "xyz")
	require.Error(t, err)
	assert.True(t, IsInvalidHash(err))
	assert.Equal(t, "Invalid transactionHash", err.Error())
}

func TestGetTransactionDetails_OtherBadRequestIsGeneric(t *testing.T) {
	perr := &ProblemError{Problem{
		Status: 400,
		Title:  "Bad Request",
		Extras: map[string]any{"invalid_field": "cursor"},
	}}
	n := NewNormalizer(&mockQuerier{opsErr: perr}, nil)

	_, err := n.GetTransactionDetails(context.Background(), "xyz")
	require.Error(t, err)
	assert.False(t, IsInvalidHash(err))

	var nerr *NormalizationError
	assert.ErrorAs(t, err, &nerr)
}

func TestGetTransactionDetails_NoOperations(t *testing.T) {
	n := NewNormalizer(&mockQuerier{}, nil)

	_, err := n.GetTransactionDetails(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNoOperations)
}
