package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "3389e9f0f1a65f19736cacf544c2e825313e8447f569233bb8db39aa607c8889"

func TestSubmit_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/payments", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "GDEST", body["destination"])
		assert.Equal(t, "10", body["amount"])
		assert.Equal(t, "invoice-00042", body["memo"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":           "submitted",
			"transaction_hash": testHash,
			"receipt": map[string]interface{}{
				"transaction_hash": testHash,
				"operation_kind":   "create_account",
				"sequence":         123457,
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	result, err := client.Submit(context.Background(), PaymentRequest{
		Secret:      "SSECRET",
		Destination: "GDEST",
		Amount:      "10",
		Memo:        "invoice-00042",
	})
	require.NoError(t, err)
	assert.Equal(t, "submitted", result.Status)
	assert.Equal(t, testHash, result.TransactionHash)
	require.NotNil(t, result.Receipt)
	assert.Equal(t, "create_account", result.Receipt.OperationKind)
	assert.Equal(t, int64(123457), result.Receipt.Sequence)
}

func TestSubmit_OutcomeUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":           "unknown",
			"transaction_hash": testHash,
			"workflow_id":      "reconcile-payment-" + testHash,
		})
	}))
	defer server.Close()

	result, err := NewClient(server.URL, nil, nil).Submit(context.Background(), PaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, "unknown", result.Status)
	assert.Equal(t, "reconcile-payment-"+testHash, result.WorkflowID)
}

func TestSubmit_ValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":  "validation failed",
			"errors": []string{"Invalid Secret", "Invalid Memo"},
		})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Submit(context.Background(), PaymentRequest{})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, []string{"Invalid Secret", "Invalid Memo"}, apiErr.Errors)
	assert.Contains(t, err.Error(), "Invalid Memo")
}

func TestSubmit_Rejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":            "transaction failed: op_no_trust",
			"transaction_code": "tx_failed",
			"operation_codes":  []string{"op_no_trust"},
		})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Submit(context.Background(), PaymentRequest{})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "tx_failed", apiErr.TransactionCode)
	assert.Equal(t, []string{"op_no_trust"}, apiErr.OperationCodes)
}

func TestTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/transactions/"+testHash, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"transaction_hash": testHash,
			"memo":             "invoice-00042",
			"fee_paid":         "0.00001",
			"successful":       true,
			"timestamp":        1700000000.5,
		})
	}))
	defer server.Close()

	txn, err := NewClient(server.URL, nil, nil).Transaction(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, "invoice-00042", txn.Memo)
	assert.Equal(t, "0.00001", txn.FeePaid.String())
	assert.True(t, txn.Successful)
	assert.Equal(t, 1700000000.5, txn.TimestampUnixSeconds)
}

func TestTransaction_InvalidHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "Invalid transactionHash"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Transaction(context.Background(), "zz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid transactionHash")
}

func TestBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/GADDR/balance", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address": "GADDR",
			"exists":  true,
			"balance": "100.5",
		})
	}))
	defer server.Close()

	b, err := NewClient(server.URL, nil, nil).Balance(context.Background(), "GADDR")
	require.NoError(t, err)
	assert.True(t, b.Exists)
	assert.Equal(t, "100.5", b.Balance.String())
}

func TestPayment(t *testing.T) {
	id := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payments/"+id.String(), r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     id,
			"status": "confirmed",
			"amount": "10.0000000",
		})
	}))
	defer server.Close()

	p, err := NewClient(server.URL, nil, nil).Payment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "confirmed", p.Status)
}

func TestHealthAndVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Write([]byte("OK"))
		case "/version":
			json.NewEncoder(w).Encode(map[string]string{"version": "v1.2.3"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil, nil)
	require.NoError(t, client.Health(context.Background()))

	v, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", v)
}

func TestNonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := NewClient(server.URL, nil, nil).Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Contains(t, err.Error(), "upstream unavailable")
}
