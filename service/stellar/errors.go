package stellar

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidAddress is returned before any I/O for a malformed account address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrAccountNotFound is the loader's signal for an account the ledger has never funded.
	// The inspector turns it into Balance{Exists: false}; it never reaches callers as a failure.
	ErrAccountNotFound = errors.New("account not found")

	// ErrUnsupportedOperation marks an operation with neither amount nor starting balance.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrNoOperations is returned when a transaction hash has no operation records.
	ErrNoOperations = errors.New("transaction has no operations")
)

// ValidationError carries every reason a payment request was rejected, in check order.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, ", ")
}

// InspectionError is a failed balance or sequence lookup.
type InspectionError struct {
	Address string
	Op      string
	Err     error
}

func (e *InspectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *InspectionError) Unwrap() error { return e.Err }

// InvalidHashError is returned when the ledger reports the hash itself as malformed.
type InvalidHashError struct {
	Hash string
}

func (e *InvalidHashError) Error() string { return "Invalid transactionHash" }

// IsInvalidHash reports whether err is, or wraps, an InvalidHashError.
func IsInvalidHash(err error) bool {
	var target *InvalidHashError
	return errors.As(err, &target)
}

// NormalizationError is a failed transaction-detail fetch or mapping. No partial record accompanies it.
type NormalizationError struct {
	Hash string
	Err  error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize transaction %s: %v", e.Hash, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// EnrichmentError is a single notification that could not be decoded or enriched.
type EnrichmentError struct {
	Address string
	Hash    string
	Err     error
}

func (e *EnrichmentError) Error() string {
	if e.Hash == "" {
		return fmt.Sprintf("enrich notification for %s: %v", e.Address, e.Err)
	}
	return fmt.Sprintf("enrich notification %s for %s: %v", e.Hash, e.Address, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// StreamError is a transport failure on a payment subscription. It is reported, never terminal.
type StreamError struct {
	Address string
	Err     error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("payment stream %s: %v", e.Address, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// SubmissionRejection is the ledger's verdict on a submitted envelope.
type SubmissionRejection struct {
	Status          int
	Title           string
	TransactionCode string
	OperationCodes  []string
	Message         string
}

func (e *SubmissionRejection) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transaction rejected: %s", e.Title)
}

// FirstOperationCode returns the result code of the first operation, or "".
func (e *SubmissionRejection) FirstOperationCode() string {
	if len(e.OperationCodes) == 0 {
		return ""
	}
	return e.OperationCodes[0]
}
