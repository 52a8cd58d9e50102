package stellar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/txnbuild"
)

// Ledger constants shared by the submission pipeline and the normalizer.
const (
	// MinMemoLength is the shortest memo a payment request may carry.
	MinMemoLength = 13

	// SubmissionTimeoutSeconds bounds how long a built envelope stays valid.
	SubmissionTimeoutSeconds = 80

	// feeScaleExp scales stroops (the ledger's smallest unit) to lumens.
	feeScaleExp = -7

	// OpUnderfunded is the operation result code for a source without enough balance.
	OpUnderfunded = "op_underfunded"
)

// OperationKind is the ledger operation type of a transfer.
type OperationKind string

const (
	OperationPayment       OperationKind = "payment"
	OperationCreateAccount OperationKind = "create_account"
)

// Keypair is a public address and its secret seed.
// It is held only for the duration of a submission and never logged.
type Keypair struct {
	Address string
	secret  string
}

// Secret returns the secret seed.
func (k Keypair) Secret() string { return k.secret }

// String hides the secret so a Keypair is safe to pass to a logger by accident.
func (k Keypair) String() string { return k.Address }

// PaymentRequest is a request to move native asset from the secret's account to destination.
type PaymentRequest struct {
	Secret      string `json:"secret"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Memo        string `json:"memo"`
}

// Balance is the spendable native balance of an account.
// Exists is false (and Amount zero) for an account that was never funded.
type Balance struct {
	Exists bool            `json:"exists"`
	Amount decimal.Decimal `json:"balance"`
}

// Account is the subset of ledger account state the pipeline needs.
type Account struct {
	ID            string
	Sequence      int64
	NativeBalance decimal.Decimal
}

// Transaction is the canonical record produced by the normalizer.
type Transaction struct {
	TransactionHash      string          `json:"transaction_hash"`
	OperationID          string          `json:"operation_id,omitempty"`
	SenderAddress        string          `json:"sender_address"`
	DestinationAddress   string          `json:"destination_address"`
	Amount               string          `json:"amount"`
	OperationType        string          `json:"operation_type"`
	Memo                 string          `json:"memo"`
	FeePaid              decimal.Decimal `json:"fee_paid"`
	SourceSequence       string          `json:"source_sequence"`
	Successful           bool            `json:"successful"`
	TimestampUnixSeconds float64         `json:"timestamp"`
	RawRecordJSON        json.RawMessage `json:"raw_record,omitempty"`
}

// Timestamp returns the record time as a time.Time.
func (t *Transaction) Timestamp() time.Time {
	sec := int64(t.TimestampUnixSeconds)
	nsec := int64((t.TimestampUnixSeconds - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// OperationRecord is a raw operation as served by the ledger query service and
// pushed on the payments stream. Payment and create-account records name the
// same destination/amount pair differently; Transfer resolves that once.
type OperationRecord struct {
	ID                    string    `json:"id"`
	PagingToken           string    `json:"paging_token"`
	TransactionHash       string    `json:"transaction_hash"`
	TransactionSuccessful bool      `json:"transaction_successful"`
	SourceAccount         string    `json:"source_account"`
	Type                  string    `json:"type"`
	CreatedAt             time.Time `json:"created_at"`

	// payment
	Amount string `json:"amount,omitempty"`
	To     string `json:"to,omitempty"`
	From   string `json:"from,omitempty"`

	// create_account
	StartingBalance string `json:"starting_balance,omitempty"`
	Account         string `json:"account,omitempty"`
	Funder          string `json:"funder,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseOperationRecord decodes a raw operation and keeps a copy of the bytes.
func ParseOperationRecord(data []byte) (OperationRecord, error) {
	var rec OperationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return OperationRecord{}, fmt.Errorf("decode operation record: %w", err)
	}
	if rec.TransactionHash == "" {
		return OperationRecord{}, fmt.Errorf("decode operation record: missing transaction_hash")
	}
	rec.Raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return rec, nil
}

// Transfer is the resolved shape of an operation that moves native asset.
type Transfer interface {
	Kind() OperationKind
	Destination() string
	Amount() string
}

// PaymentTransfer is a payment to an existing account.
type PaymentTransfer struct {
	To          string
	AmountValue string
}

func (p PaymentTransfer) Kind() OperationKind { return OperationPayment }
func (p PaymentTransfer) Destination() string { return p.To }
func (p PaymentTransfer) Amount() string      { return p.AmountValue }

// CreateAccountTransfer funds a previously nonexistent account.
type CreateAccountTransfer struct {
	Account         string
	StartingBalance string
}

func (c CreateAccountTransfer) Kind() OperationKind { return OperationCreateAccount }
func (c CreateAccountTransfer) Destination() string { return c.Account }
func (c CreateAccountTransfer) Amount() string      { return c.StartingBalance }

// Transfer resolves the record into its payment or create-account shape.
// Amount comes from amount, else starting_balance; destination from to, else account.
func (r OperationRecord) Transfer() (Transfer, error) {
	dest := r.To
	if dest == "" {
		dest = r.Account
	}
	switch {
	case r.Amount != "":
		return PaymentTransfer{To: dest, AmountValue: r.Amount}, nil
	case r.StartingBalance != "":
		return CreateAccountTransfer{Account: dest, StartingBalance: r.StartingBalance}, nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnsupportedOperation, r.Type)
	}
}

// TransactionRecord is the parent transaction of an operation.
type TransactionRecord struct {
	ID                    string    `json:"id"`
	Hash                  string    `json:"hash"`
	Successful            bool      `json:"successful"`
	Ledger                int64     `json:"ledger"`
	CreatedAt             time.Time `json:"created_at"`
	SourceAccount         string    `json:"source_account"`
	SourceAccountSequence string    `json:"source_account_sequence"`
	FeeCharged            Stroops   `json:"fee_charged"`
	MemoType              string    `json:"memo_type"`
	Memo                  string    `json:"memo"`
}

// Stroops is an amount in the ledger's smallest unit. Horizon has served
// fee fields both as JSON numbers and as strings, so both decode.
type Stroops int64

func (s *Stroops) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(data, `"`))
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid stroop amount %q: %w", raw, err)
	}
	*s = Stroops(v)
	return nil
}

// Lumens scales the amount down by 10^7.
func (s Stroops) Lumens() decimal.Decimal {
	return decimal.New(int64(s), feeScaleExp)
}

// PaymentEvent is an inbound payment notification enriched with its memo.
type PaymentEvent struct {
	Address         string       `json:"address"`
	ID              string       `json:"id"`
	PagingToken     string       `json:"paging_token"`
	TransactionHash string       `json:"transaction_hash"`
	OperationType   string       `json:"operation_type"`
	SourceAccount   string       `json:"source_account"`
	Destination     string       `json:"destination"`
	Amount          string       `json:"amount"`
	CreatedAt       time.Time    `json:"created_at"`
	Memo            string       `json:"memo"`
	Transaction     *Transaction `json:"transaction,omitempty"`
}

// EnvelopeParams describes the single-operation transaction to build.
type EnvelopeParams struct {
	SourceAddress  string
	Sequence       int64
	Kind           OperationKind
	Destination    string
	Amount         string
	Memo           string
	TimeoutSeconds int64
}

// Envelope is a built (and possibly signed) transaction.
type Envelope struct {
	Params EnvelopeParams
	Signed bool
	Hash   string
	XDR    string

	tx *txnbuild.Transaction
}
