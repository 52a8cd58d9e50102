package stellar

import (
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/strkey"
)

// Validation failure reasons, reported in this order.
const (
	ReasonInvalidSecret      = "Invalid Secret"
	ReasonInvalidDestination = "Invalid Destination"
	ReasonInvalidAmount      = "Invalid Amount"
	ReasonInvalidMemo        = "Invalid Memo"
)

// IsValidAddress reports whether address is a well-formed ed25519 account id.
func IsValidAddress(address string) bool {
	return strkey.IsValidEd25519PublicKey(address)
}

// IsValidSecret reports whether secret is a well-formed ed25519 secret seed.
func IsValidSecret(secret string) bool {
	return strkey.IsValidEd25519SecretSeed(secret)
}

// ValidatePaymentRequest runs every check and returns all failures.
// An empty result means the request may be submitted.
func ValidatePaymentRequest(req PaymentRequest) []string {
	var reasons []string
	if !IsValidSecret(req.Secret) {
		reasons = append(reasons, ReasonInvalidSecret)
	}
	if !IsValidAddress(req.Destination) {
		reasons = append(reasons, ReasonInvalidDestination)
	}
	if amount, err := decimal.NewFromString(req.Amount); err != nil || amount.IsNegative() {
		reasons = append(reasons, ReasonInvalidAmount)
	}
	if utf8.RuneCountInString(req.Memo) < MinMemoLength {
		reasons = append(reasons, ReasonInvalidMemo)
	}
	return reasons
}

// Validate wraps ValidatePaymentRequest as an error value.
func Validate(req PaymentRequest) error {
	if reasons := ValidatePaymentRequest(req); len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}
