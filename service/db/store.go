package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/stellarpay/service/metrics"
	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentSubmitted = "submitted"
	PaymentConfirmed = "confirmed"
	PaymentFailed    = "failed"
	PaymentUnknown   = "unknown"
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil no query metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Payment is an outbound payment attempt. The secret is never stored.
type Payment struct {
	ID                 uuid.UUID
	SourceAddress      string
	DestinationAddress string
	Amount             decimal.Decimal
	Memo               string
	OperationKind      string
	TransactionHash    *string
	Sequence           *int64
	Status             string
	Error              *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CreatePaymentParams contains the parameters for recording a payment attempt.
type CreatePaymentParams struct {
	SourceAddress      string
	DestinationAddress string
	Amount             string
	Memo               string
}

// MarkSubmittedParams records the ledger's acceptance of a payment.
type MarkSubmittedParams struct {
	ID              uuid.UUID
	TransactionHash string
	OperationKind   string
	Sequence        int64
}

const paymentColumns = `id, source_address, destination_address, amount::text, memo, operation_kind,
	transaction_hash, sequence, status, error, created_at, updated_at`

// CreatePayment inserts a pending payment.
func (s *Store) CreatePayment(ctx context.Context, params CreatePaymentParams) (*Payment, error) {
	return s.queryPayment(ctx, "create_payment", `
		INSERT INTO payments (id, source_address, destination_address, amount, memo, status)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		RETURNING `+paymentColumns,
		uuid.New(), params.SourceAddress, params.DestinationAddress, params.Amount, params.Memo, PaymentPending,
	)
}

// MarkPaymentSubmitted stores the hash the ledger accepted.
func (s *Store) MarkPaymentSubmitted(ctx context.Context, params MarkSubmittedParams) (*Payment, error) {
	return s.queryPayment(ctx, "mark_payment_submitted", `
		UPDATE payments
		SET transaction_hash = $2, operation_kind = $3, sequence = $4, status = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+paymentColumns,
		params.ID, params.TransactionHash, params.OperationKind, params.Sequence, PaymentSubmitted,
	)
}

// UpdatePaymentStatus sets the status of a payment, and its error when failed.
// An unknown-outcome payment also keeps its envelope hash for reconciliation.
func (s *Store) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status string, hash, errMsg *string) (*Payment, error) {
	return s.queryPayment(ctx, "update_payment_status", `
		UPDATE payments
		SET status = $2, transaction_hash = COALESCE($3, transaction_hash), error = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+paymentColumns,
		id, status, hash, errMsg,
	)
}

// UpdatePaymentStatusByHash sets the status of every payment carrying hash.
// It returns the number of payments updated.
func (s *Store) UpdatePaymentStatusByHash(ctx context.Context, hash, status string, errMsg *string) (int64, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE payments SET status = $2, error = $3, updated_at = now()
		WHERE transaction_hash = $1`,
		hash, status, errMsg,
	)
	s.observe("update_payment_status_by_hash", "payments", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to update payment status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetPayment retrieves a payment by id.
func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.queryPayment(ctx, "get_payment", `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

// ListPayments returns the most recent payments, newest first.
func (s *Store) ListPayments(ctx context.Context, status string, limit, offset int32) ([]*Payment, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		status, limit, offset,
	)
	s.observe("list_payments", "payments", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// UpsertTransaction stores a normalized transaction, replacing an earlier copy.
func (s *Store) UpsertTransaction(ctx context.Context, txn *stellar.Transaction) error {
	var raw *string
	if len(txn.RawRecordJSON) > 0 {
		r := string(txn.RawRecordJSON)
		raw = &r
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (
			transaction_hash, operation_id, sender_address, destination_address, amount,
			operation_type, memo, fee_paid, source_sequence, successful, occurred_at, raw_record
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8::numeric, $9, $10, $11, $12::jsonb)
		ON CONFLICT (transaction_hash, operation_id) DO UPDATE SET
			memo = EXCLUDED.memo,
			fee_paid = EXCLUDED.fee_paid,
			successful = EXCLUDED.successful,
			raw_record = EXCLUDED.raw_record`,
		txn.TransactionHash, txn.OperationID, txn.SenderAddress, txn.DestinationAddress, txn.Amount,
		txn.OperationType, txn.Memo, txn.FeePaid.String(), txn.SourceSequence, txn.Successful,
		txn.Timestamp(), raw,
	)
	s.observe("upsert_transaction", "transactions", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction %s: %w", txn.TransactionHash, err)
	}
	return nil
}

const transactionColumns = `transaction_hash, operation_id, sender_address, destination_address, amount::text,
	operation_type, memo, fee_paid::text, source_sequence, successful, occurred_at, raw_record::text`

// GetTransaction retrieves the first stored operation of hash.
func (s *Store) GetTransaction(ctx context.Context, hash string) (*stellar.Transaction, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE transaction_hash = $1
		ORDER BY operation_id
		LIMIT 1`, hash)
	txn, err := scanTransaction(row)
	s.observe("get_transaction", "transactions", start, ignoreNotFound(err))
	return txn, err
}

// ListTransactionsByAccount returns transactions sent or received by address, newest first.
func (s *Store) ListTransactionsByAccount(ctx context.Context, address string, limit, offset int32) ([]*stellar.Transaction, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE sender_address = $1 OR destination_address = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3`,
		address, limit, offset,
	)
	s.observe("list_transactions_by_account", "transactions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*stellar.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *Store) queryPayment(ctx context.Context, operation, sql string, args ...any) (*Payment, error) {
	start := time.Now()
	p, err := scanPayment(s.pool.QueryRow(ctx, sql, args...))
	s.observe(operation, "payments", start, ignoreNotFound(err))
	return p, err
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) observe(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p      Payment
		amount string
		hash   pgtype.Text
		seq    pgtype.Int8
		errMsg pgtype.Text
	)
	err := row.Scan(
		&p.ID, &p.SourceAddress, &p.DestinationAddress, &amount, &p.Memo, &p.OperationKind,
		&hash, &seq, &p.Status, &errMsg, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	p.TransactionHash = stringPtrFromPgtext(hash)
	if seq.Valid {
		p.Sequence = &seq.Int64
	}
	p.Error = stringPtrFromPgtext(errMsg)
	return &p, nil
}

func scanTransaction(row pgx.Row) (*stellar.Transaction, error) {
	var (
		t          stellar.Transaction
		fee        string
		occurredAt time.Time
		raw        pgtype.Text
	)
	err := row.Scan(
		&t.TransactionHash, &t.OperationID, &t.SenderAddress, &t.DestinationAddress, &t.Amount,
		&t.OperationType, &t.Memo, &fee, &t.SourceSequence, &t.Successful, &occurredAt, &raw,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.FeePaid, err = decimal.NewFromString(fee)
	if err != nil {
		return nil, fmt.Errorf("invalid stored fee %q: %w", fee, err)
	}
	t.TimestampUnixSeconds = float64(occurredAt.UnixNano()) / 1e9
	if raw.Valid {
		t.RawRecordJSON = json.RawMessage(raw.String)
	}
	return &t, nil
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
