package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/stellarpay/service/metrics"
	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/shopspring/decimal"
)

var (
	// ErrAccountDoesNotExist means the source account has never been funded.
	ErrAccountDoesNotExist = errors.New("account does not exist")

	// ErrInsufficientFunds covers both the pre-flight balance check and an
	// op_underfunded rejection from the ledger.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// OutcomeUnknownError means the envelope may have reached the ledger but no
// verdict came back. Reconcile by Hash before retrying.
type OutcomeUnknownError struct {
	Hash string
	Err  error
}

func (e *OutcomeUnknownError) Error() string {
	return fmt.Sprintf("outcome of transaction %s unknown: %v", e.Hash, e.Err)
}

func (e *OutcomeUnknownError) Unwrap() error { return e.Err }

// Stage is a step of the submission pipeline.
type Stage string

const (
	StageValidating                 Stage = "validating"
	StageCheckingSourceBalance      Stage = "checking_source_balance"
	StageCheckingDestinationBalance Stage = "checking_destination_balance"
	StageFetchingSequence           Stage = "fetching_sequence"
	StageBuildingOperation          Stage = "building_operation"
	StageSigning                    Stage = "signing"
	StageSubmitting                 Stage = "submitting"
	StageClassifying                Stage = "classifying"
)

// BalanceChecker reports whether an account exists and its native balance.
type BalanceChecker interface {
	GetBalance(ctx context.Context, address string) (stellar.Balance, error)
}

// Ledger builds, signs, and submits envelopes.
type Ledger interface {
	AccountSequence(ctx context.Context, address string) (int64, error)
	BuildEnvelope(params stellar.EnvelopeParams) (*stellar.Envelope, error)
	SignEnvelope(env *stellar.Envelope, kp stellar.Keypair) (*stellar.Envelope, error)
	SubmitEnvelope(ctx context.Context, env *stellar.Envelope) (string, error)
}

// Receipt describes an accepted submission.
type Receipt struct {
	TransactionHash string                `json:"transaction_hash"`
	Source          string                `json:"source"`
	Destination     string                `json:"destination"`
	Amount          string                `json:"amount"`
	OperationKind   stellar.OperationKind `json:"operation_kind"`
	Memo            string                `json:"memo"`
	Sequence        int64                 `json:"sequence"`
	SubmittedAt     time.Time             `json:"submitted_at"`
}

// Submitter runs the payment pipeline:
// validate, check balances, pick the operation kind, sequence, build, sign, submit, classify.
type Submitter struct {
	balances BalanceChecker
	ledger   Ledger
	locker   SourceLocker
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewSubmitter creates a submitter. A nil locker defaults to an in-process
// LocalLocker; a nil metrics disables instrumentation.
func NewSubmitter(balances BalanceChecker, ledger Ledger, locker SourceLocker, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Submitter{
		balances: balances,
		ledger:   ledger,
		locker:   locker,
		metrics:  m,
		logger:   logger,
	}
}

// Submit moves req.Amount of native asset from the secret's account to req.Destination.
//
// Errors are values a caller can branch on: *stellar.ValidationError,
// ErrAccountDoesNotExist, ErrInsufficientFunds, ErrSourceBusy,
// *stellar.InspectionError, *stellar.SubmissionRejection, and *OutcomeUnknownError.
func (s *Submitter) Submit(ctx context.Context, req stellar.PaymentRequest) (*Receipt, error) {
	receipt, err := s.submit(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordSubmission(outcomeLabel(err))
	}
	return receipt, err
}

func (s *Submitter) submit(ctx context.Context, req stellar.PaymentRequest) (*Receipt, error) {
	done := s.enter(ctx, StageValidating)
	err := stellar.Validate(req)
	done()
	if err != nil {
		return nil, err
	}

	kp, err := stellar.KeypairFromSecret(req.Secret)
	if err != nil {
		return nil, &stellar.ValidationError{Reasons: []string{stellar.ReasonInvalidSecret}}
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, &stellar.ValidationError{Reasons: []string{stellar.ReasonInvalidAmount}}
	}

	unlock, err := s.locker.Lock(ctx, kp.Address)
	if err != nil {
		return nil, err
	}
	defer unlock()

	logger := s.logger.With("source", kp.Address, "destination", req.Destination)

	done = s.enter(ctx, StageCheckingSourceBalance)
	source, err := s.balances.GetBalance(ctx, kp.Address)
	done()
	if err != nil {
		return nil, err
	}
	if !source.Exists {
		return nil, ErrAccountDoesNotExist
	}
	if source.Amount.LessThan(amount) {
		logger.InfoContext(ctx, "source balance below requested amount",
			"balance", source.Amount.String(),
			"amount", amount.String(),
		)
		return nil, ErrInsufficientFunds
	}

	done = s.enter(ctx, StageCheckingDestinationBalance)
	dest, err := s.balances.GetBalance(ctx, req.Destination)
	done()
	if err != nil {
		return nil, err
	}

	done = s.enter(ctx, StageFetchingSequence)
	seq, err := s.ledger.AccountSequence(ctx, kp.Address)
	done()
	if err != nil {
		return nil, &stellar.InspectionError{Address: kp.Address, Op: "fetch sequence", Err: err}
	}

	kind := stellar.OperationCreateAccount
	if dest.Exists {
		kind = stellar.OperationPayment
	}

	done = s.enter(ctx, StageBuildingOperation)
	env, err := s.ledger.BuildEnvelope(stellar.EnvelopeParams{
		SourceAddress:  kp.Address,
		Sequence:       seq,
		Kind:           kind,
		Destination:    req.Destination,
		Amount:         req.Amount,
		Memo:           req.Memo,
		TimeoutSeconds: stellar.SubmissionTimeoutSeconds,
	})
	done()
	if err != nil {
		return nil, fmt.Errorf("build %s operation: %w", kind, err)
	}

	done = s.enter(ctx, StageSigning)
	signed, err := s.ledger.SignEnvelope(env, kp)
	done()
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done = s.enter(ctx, StageSubmitting)
	hash, err := s.ledger.SubmitEnvelope(ctx, signed)
	done()
	if err != nil {
		done = s.enter(ctx, StageClassifying)
		err = classify(signed.Hash, err)
		done()
		logger.WarnContext(ctx, "submission failed", "hash", signed.Hash, "error", err)
		return nil, err
	}

	logger.InfoContext(ctx, "payment submitted",
		"hash", hash,
		"operation", string(kind),
		"amount", req.Amount,
		"sequence", seq+1,
	)

	return &Receipt{
		TransactionHash: hash,
		Source:          kp.Address,
		Destination:     req.Destination,
		Amount:          req.Amount,
		OperationKind:   kind,
		Memo:            req.Memo,
		Sequence:        seq + 1,
		SubmittedAt:     time.Now().UTC(),
	}, nil
}

// classify turns a failed submit into the caller-facing error.
func classify(hash string, err error) error {
	var rej *stellar.SubmissionRejection
	if !errors.As(err, &rej) {
		return &OutcomeUnknownError{Hash: hash, Err: err}
	}
	if rej.FirstOperationCode() == stellar.OpUnderfunded {
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, rej)
	}
	return rej
}

// enter logs the stage transition and returns a func that records its duration.
func (s *Submitter) enter(ctx context.Context, stage Stage) func() {
	s.logger.DebugContext(ctx, "payment stage", "stage", string(stage))
	start := time.Now()
	return func() {
		if s.metrics != nil {
			s.metrics.RecordSubmissionStage(string(stage), time.Since(start).Seconds())
		}
	}
}

func outcomeLabel(err error) string {
	var (
		verr *stellar.ValidationError
		ierr *stellar.InspectionError
		rej  *stellar.SubmissionRejection
		uerr *OutcomeUnknownError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAccountDoesNotExist):
		return "account_missing"
	case errors.Is(err, ErrSourceBusy):
		return "busy"
	case errors.As(err, &ierr):
		return "inspection_error"
	case errors.As(err, &rej):
		return "rejected"
	case errors.As(err, &uerr):
		return "unknown"
	default:
		return "error"
	}
}
