package stellar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryClient_TransactionOperations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/abcdef0123/operations", r.URL.Path)
		w.Header().Set("Content-Type", "application/hal+json")
		w.Write([]byte(`{"_embedded":{"records":[` + paymentRecordJSON + `]}}`))
	}))
	defer server.Close()

	client := NewQueryClient(server.URL, nil, nil, nil)
	ops, err := client.TransactionOperations(context.Background(), "abcdef0123")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "25.0000000", ops[0].Amount)
	assert.JSONEq(t, paymentRecordJSON, string(ops[0].Raw))
}

func TestQueryClient_TransactionDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/abcdef0123", r.URL.Path)
		w.Write([]byte(`{"hash":"abcdef0123","successful":true,"fee_charged":"100","memo_type":"text","memo":"deposit-00042","source_account_sequence":"12"}`))
	}))
	defer server.Close()

	client := NewQueryClient(server.URL, nil, nil, nil)
	tx, err := client.TransactionDetail(context.Background(), "abcdef0123")
	require.NoError(t, err)
	assert.Equal(t, Stroops(100), tx.FeeCharged)
	assert.Equal(t, "deposit-00042", tx.Memo)
}

func TestQueryClient_InvalidTxID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{
			"type": "https://stellar.org/horizon-errors/bad_request",
			"title": "Bad Request",
			"status": 400,
			"detail": "The request you sent was invalid in some way.",
			"extras": {"invalid_field": "tx_id", "reason": "Transaction hash must be a hex-encoded, lowercase SHA-256 hash"}
		}`))
	}))
	defer server.Close()

	n := NewNormalizer(NewQueryClient(server.URL, nil, nil, nil), nil)
	_, err := n.GetTransactionDetails(context.Background(), "not-a-hash")
	require.Error(t, err)
	assert.True(t, IsInvalidHash(err))
}

func TestQueryClient_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"title":"Resource Missing","status":404}`))
	}))
	defer server.Close()

	_, err := NewQueryClient(server.URL, nil, nil, nil).TransactionDetail(context.Background(), "abc")
	require.Error(t, err)
	assert.True(t, IsTransactionNotFound(err))
}

func TestQueryClient_NonProblemBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	_, err := NewQueryClient(server.URL, nil, nil, nil).TransactionDetail(context.Background(), "abc")

	var perr *ProblemError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadGateway, perr.Status)
	assert.Equal(t, "upstream down", perr.Detail)
}
