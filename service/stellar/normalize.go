package stellar

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// TransactionQuerier reads transaction records from the ledger query service.
type TransactionQuerier interface {
	// TransactionDetail fetches GET /transactions/{hash}.
	TransactionDetail(ctx context.Context, hash string) (*TransactionRecord, error)
	// TransactionOperations fetches GET /transactions/{hash}/operations.
	TransactionOperations(ctx context.Context, hash string) ([]OperationRecord, error)
}

// Normalizer maps raw operation and transaction records into canonical Transactions.
type Normalizer struct {
	query  TransactionQuerier
	logger *slog.Logger
}

// NewNormalizer creates a normalizer that fetches parent transactions through query.
func NewNormalizer(query TransactionQuerier, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Normalizer{query: query, logger: logger}
}

// Normalize builds the canonical record from an operation and its parent transaction.
func Normalize(op OperationRecord, tx TransactionRecord) (*Transaction, error) {
	transfer, err := op.Transfer()
	if err != nil {
		return nil, err
	}

	return &Transaction{
		TransactionHash:      op.TransactionHash,
		OperationID:          op.ID,
		SenderAddress:        op.SourceAccount,
		DestinationAddress:   transfer.Destination(),
		Amount:               transfer.Amount(),
		OperationType:        op.Type,
		Memo:                 tx.Memo,
		FeePaid:              tx.FeeCharged.Lumens(),
		SourceSequence:       tx.SourceAccountSequence,
		Successful:           op.TransactionSuccessful,
		TimestampUnixSeconds: float64(op.CreatedAt.UnixNano()) / 1e9,
		RawRecordJSON:        op.Raw,
	}, nil
}

// Enrich fetches the parent transaction of op and normalizes the pair.
func (n *Normalizer) Enrich(ctx context.Context, op OperationRecord) (*Transaction, error) {
	hash := strings.ToLower(op.TransactionHash)

	tx, err := n.query.TransactionDetail(ctx, hash)
	if err != nil {
		return nil, &NormalizationError{Hash: hash, Err: err}
	}

	txn, err := Normalize(op, *tx)
	if err != nil {
		return nil, &NormalizationError{Hash: hash, Err: err}
	}
	return txn, nil
}

// GetTransactionDetails looks up the primary operation of hash and returns its canonical record.
// A hash the ledger rejects as malformed yields an InvalidHashError.
func (n *Normalizer) GetTransactionDetails(ctx context.Context, hash string) (*Transaction, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))

	ops, err := n.query.TransactionOperations(ctx, hash)
	if err != nil {
		if isInvalidTxID(err) {
			n.logger.DebugContext(ctx, "ledger rejected transaction hash", "hash", hash)
			return nil, &InvalidHashError{Hash: hash}
		}
		return nil, &NormalizationError{Hash: hash, Err: err}
	}
	if len(ops) == 0 {
		return nil, &NormalizationError{Hash: hash, Err: ErrNoOperations}
	}

	return n.Enrich(ctx, ops[0])
}
