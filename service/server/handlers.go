package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/stellarpay/service/db"
	"github.com/brojonat/stellarpay/service/payment"
	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/brojonat/stellarpay/service/temporal"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 16 // a payment request is a few hundred bytes
	defaultListLimit   = 100
	maxListLimit       = 1000
)

// PaymentSubmitter submits native payments.
type PaymentSubmitter interface {
	Submit(ctx context.Context, req stellar.PaymentRequest) (*payment.Receipt, error)
}

// TransactionLookup fetches normalized transactions by hash.
type TransactionLookup interface {
	GetTransactionDetails(ctx context.Context, hash string) (*stellar.Transaction, error)
}

// BalanceLookup reads native balances.
type BalanceLookup interface {
	GetBalance(ctx context.Context, address string) (stellar.Balance, error)
}

// PaymentStore is the audit trail the handlers write to. It may be nil.
type PaymentStore interface {
	CreatePayment(ctx context.Context, params db.CreatePaymentParams) (*db.Payment, error)
	MarkPaymentSubmitted(ctx context.Context, params db.MarkSubmittedParams) (*db.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status string, hash, errMsg *string) (*db.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*db.Payment, error)
	ListPayments(ctx context.Context, status string, limit, offset int32) ([]*db.Payment, error)
	ListTransactionsByAccount(ctx context.Context, address string, limit, offset int32) ([]*stellar.Transaction, error)
}

// submitResponse is the JSON response for POST /api/v1/payments.
type submitResponse struct {
	PaymentID       *uuid.UUID       `json:"payment_id,omitempty"`
	Status          string           `json:"status"`
	TransactionHash string           `json:"transaction_hash,omitempty"`
	Receipt         *payment.Receipt `json:"receipt,omitempty"`
	WorkflowID      string           `json:"workflow_id,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// handleSubmitPayment returns a handler that submits a native payment.
// POST /api/v1/payments
//
// A submitted (or possibly submitted) payment is reconciled by hash in the
// background when a reconciler is configured. store and reconciler may be nil.
func handleSubmitPayment(submitter PaymentSubmitter, store PaymentStore, reconciler temporal.Reconciler, reconcileTimeout time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req stellar.PaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.DebugContext(ctx, "failed to decode payment request", "error", err)
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := stellar.Validate(req); err != nil {
			writeSubmitError(w, err)
			return
		}
		source, err := stellar.KeypairFromSecret(req.Secret)
		if err != nil {
			writeSubmitError(w, &stellar.ValidationError{Reasons: []string{stellar.ReasonInvalidSecret}})
			return
		}

		var record *db.Payment
		if store != nil {
			record, err = store.CreatePayment(ctx, db.CreatePaymentParams{
				SourceAddress:      source.Address,
				DestinationAddress: req.Destination,
				Amount:             req.Amount,
				Memo:               req.Memo,
			})
			if err != nil {
				logger.ErrorContext(ctx, "failed to record payment", "source", source.Address, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}

		receipt, submitErr := submitter.Submit(ctx, req)

		// The outcome is recorded even if the client has gone away.
		bg := context.WithoutCancel(ctx)

		resp := submitResponse{}
		if record != nil {
			resp.PaymentID = &record.ID
		}

		var unknown *payment.OutcomeUnknownError
		switch {
		case submitErr == nil:
			resp.Status = db.PaymentSubmitted
			resp.TransactionHash = receipt.TransactionHash
			resp.Receipt = receipt
			if record != nil {
				if _, err := store.MarkPaymentSubmitted(bg, db.MarkSubmittedParams{
					ID:              record.ID,
					TransactionHash: receipt.TransactionHash,
					OperationKind:   string(receipt.OperationKind),
					Sequence:        receipt.Sequence,
				}); err != nil {
					logger.ErrorContext(ctx, "failed to mark payment submitted", "payment_id", record.ID, "error", err)
				}
			}
			resp.WorkflowID = startReconcile(bg, reconciler, receipt.TransactionHash, source.Address, reconcileTimeout, logger)
			logger.InfoContext(ctx, "payment submitted",
				"hash", receipt.TransactionHash,
				"source", receipt.Source,
				"destination", receipt.Destination,
				"operation_kind", receipt.OperationKind,
			)
			writeJSON(w, resp, http.StatusCreated)

		case errors.As(submitErr, &unknown):
			resp.Status = db.PaymentUnknown
			resp.TransactionHash = unknown.Hash
			resp.Error = submitErr.Error()
			if record != nil {
				msg := submitErr.Error()
				if _, err := store.UpdatePaymentStatus(bg, record.ID, db.PaymentUnknown, &unknown.Hash, &msg); err != nil {
					logger.ErrorContext(ctx, "failed to mark payment unknown", "payment_id", record.ID, "error", err)
				}
			}
			resp.WorkflowID = startReconcile(bg, reconciler, unknown.Hash, source.Address, reconcileTimeout, logger)
			logger.WarnContext(ctx, "payment outcome unknown", "hash", unknown.Hash, "error", submitErr)
			writeJSON(w, resp, http.StatusAccepted)

		default:
			if record != nil {
				msg := submitErr.Error()
				if _, err := store.UpdatePaymentStatus(bg, record.ID, db.PaymentFailed, nil, &msg); err != nil {
					logger.ErrorContext(ctx, "failed to mark payment failed", "payment_id", record.ID, "error", err)
				}
			}
			logger.InfoContext(ctx, "payment not submitted", "source", source.Address, "error", submitErr)
			writeSubmitError(w, submitErr)
		}
	})
}

func startReconcile(ctx context.Context, reconciler temporal.Reconciler, hash, address string, timeout time.Duration, logger *slog.Logger) string {
	if reconciler == nil {
		return ""
	}
	id, err := reconciler.StartReconcile(ctx, temporal.ReconcilePaymentInput{
		TransactionHash: hash,
		Address:         address,
		Timeout:         timeout,
	})
	if err != nil {
		// The payment row keeps the hash; a later reconcile can pick it up.
		logger.ErrorContext(ctx, "failed to start reconcile", "hash", hash, "error", err)
		return ""
	}
	return id
}

// handleGetPayment returns a handler that retrieves a recorded payment.
// GET /api/v1/payments/{id}
func handleGetPayment(store PaymentStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid payment id", http.StatusBadRequest)
			return
		}

		p, err := store.GetPayment(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "payment not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get payment", "payment_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, paymentToResponse(p), http.StatusOK)
	})
}

// handleListPayments returns a handler that lists recorded payments.
// GET /api/v1/payments?status=STATUS&limit=N&offset=N
func handleListPayments(store PaymentStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		limit, offset, err := parsePage(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		payments, err := store.ListPayments(r.Context(), status, limit, offset)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list payments", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]paymentResponse, len(payments))
		for i, p := range payments {
			resp[i] = paymentToResponse(p)
		}

		writeJSON(w, map[string]interface{}{
			"payments": resp,
			"count":    len(resp),
			"limit":    limit,
			"offset":   offset,
		}, http.StatusOK)
	})
}

// handleGetTransaction returns a handler that fetches the normalized first operation of a transaction.
// GET /api/v1/transactions/{hash}
func handleGetTransaction(lookup TransactionLookup, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := r.PathValue("hash")

		txn, err := lookup.GetTransactionDetails(r.Context(), hash)
		switch {
		case err == nil:
		case stellar.IsInvalidHash(err):
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		case stellar.IsTransactionNotFound(err):
			writeError(w, "transaction not found", http.StatusNotFound)
			return
		default:
			logger.WarnContext(r.Context(), "failed to get transaction details", "hash", hash, "error", err)
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}

		writeJSON(w, txn, http.StatusOK)
	})
}

// handleGetBalance returns a handler that reads an account's native balance.
// GET /api/v1/accounts/{address}/balance
func handleGetBalance(lookup BalanceLookup, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if !stellar.IsValidAddress(address) {
			writeError(w, "invalid address", http.StatusBadRequest)
			return
		}

		balance, err := lookup.GetBalance(r.Context(), address)
		if err != nil {
			logger.WarnContext(r.Context(), "failed to get balance", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}

		writeJSON(w, balanceResponse{
			Address: address,
			Exists:  balance.Exists,
			Balance: balance.Amount,
		}, http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists stored transactions for an account.
// GET /api/v1/accounts/{address}/transactions?limit=N&offset=N
func handleListTransactions(store PaymentStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if !stellar.IsValidAddress(address) {
			writeError(w, "invalid address", http.StatusBadRequest)
			return
		}

		limit, offset, err := parsePage(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		transactions, err := store.ListTransactionsByAccount(r.Context(), address, limit, offset)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list transactions", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.DebugContext(r.Context(), "transactions listed", "address", address, "count", len(transactions))

		if transactions == nil {
			transactions = []*stellar.Transaction{}
		}
		writeJSON(w, map[string]interface{}{
			"transactions": transactions,
			"count":        len(transactions),
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// balanceResponse is the JSON response format for a balance lookup.
type balanceResponse struct {
	Address string          `json:"address"`
	Exists  bool            `json:"exists"`
	Balance decimal.Decimal `json:"balance"`
}

// paymentResponse is the JSON response format for a recorded payment.
type paymentResponse struct {
	ID              uuid.UUID `json:"id"`
	Source          string    `json:"source"`
	Destination     string    `json:"destination"`
	Amount          string    `json:"amount"`
	Memo            string    `json:"memo"`
	OperationKind   string    `json:"operation_kind,omitempty"`
	TransactionHash *string   `json:"transaction_hash,omitempty"`
	Sequence        *int64    `json:"sequence,omitempty"`
	Status          string    `json:"status"`
	Error           *string   `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// paymentToResponse converts a stored Payment to a response format.
func paymentToResponse(p *db.Payment) paymentResponse {
	return paymentResponse{
		ID:              p.ID,
		Source:          p.SourceAddress,
		Destination:     p.DestinationAddress,
		Amount:          p.Amount.StringFixed(7),
		Memo:            p.Memo,
		OperationKind:   p.OperationKind,
		TransactionHash: p.TransactionHash,
		Sequence:        p.Sequence,
		Status:          p.Status,
		Error:           p.Error,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// writeSubmitError maps a submission failure to a status code.
func writeSubmitError(w http.ResponseWriter, err error) {
	var (
		validation *stellar.ValidationError
		rejection  *stellar.SubmissionRejection
		inspection *stellar.InspectionError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, map[string]interface{}{
			"error":  "validation failed",
			"errors": validation.Reasons,
		}, http.StatusBadRequest)
	case errors.Is(err, payment.ErrSourceBusy):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, payment.ErrInsufficientFunds):
		resp := map[string]interface{}{"error": payment.ErrInsufficientFunds.Error()}
		if errors.As(err, &rejection) {
			resp["transaction_code"] = rejection.TransactionCode
			resp["operation_codes"] = rejection.OperationCodes
		}
		writeJSON(w, resp, http.StatusUnprocessableEntity)
	case errors.Is(err, payment.ErrAccountDoesNotExist):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &rejection):
		writeJSON(w, map[string]interface{}{
			"error":            rejection.Error(),
			"transaction_code": rejection.TransactionCode,
			"operation_codes":  rejection.OperationCodes,
		}, http.StatusBadGateway)
	case errors.As(err, &inspection):
		writeError(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// parsePage reads limit (default 100, max 1000) and offset (default 0) query parameters.
func parsePage(r *http.Request) (int32, int32, error) {
	query := r.URL.Query()

	limit := int32(defaultListLimit)
	if limitStr := query.Get("limit"); limitStr != "" {
		var parsedLimit int
		if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
			return 0, 0, fmt.Errorf("invalid limit parameter: must be an integer")
		}
		if parsedLimit < 1 {
			return 0, 0, fmt.Errorf("limit must be at least 1")
		}
		if parsedLimit > maxListLimit {
			return 0, 0, fmt.Errorf("limit cannot exceed %d", maxListLimit)
		}
		limit = int32(parsedLimit)
	}

	offset := int32(0)
	if offsetStr := query.Get("offset"); offsetStr != "" {
		var parsedOffset int
		if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
			return 0, 0, fmt.Errorf("invalid offset parameter: must be an integer")
		}
		if parsedOffset < 0 {
			return 0, 0, fmt.Errorf("offset cannot be negative")
		}
		offset = int32(parsedOffset)
	}

	return limit, offset, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": strings.TrimSpace(message),
	})
}
