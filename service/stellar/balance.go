package stellar

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"
)

// AccountLoader loads ledger account state.
// It returns ErrAccountNotFound when the ledger has no such account.
type AccountLoader interface {
	LoadAccount(ctx context.Context, address string) (*Account, error)
}

// Inspector resolves whether an account exists and what native balance it can spend.
type Inspector struct {
	loader AccountLoader
	logger *slog.Logger
}

// NewInspector creates a balance inspector over the given loader.
func NewInspector(loader AccountLoader, logger *slog.Logger) *Inspector {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Inspector{loader: loader, logger: logger}
}

// GetBalance returns the native balance of address.
// A missing account is data, not an error: it yields Balance{Exists: false}.
func (i *Inspector) GetBalance(ctx context.Context, address string) (Balance, error) {
	if !IsValidAddress(address) {
		return Balance{}, &InspectionError{Address: address, Op: "load account", Err: ErrInvalidAddress}
	}

	account, err := i.loader.LoadAccount(ctx, address)
	if errors.Is(err, ErrAccountNotFound) {
		i.logger.DebugContext(ctx, "account does not exist yet", "address", address)
		return Balance{Exists: false, Amount: decimal.Zero}, nil
	}
	if err != nil {
		return Balance{}, &InspectionError{Address: address, Op: "load account", Err: err}
	}

	return Balance{Exists: true, Amount: account.NativeBalance}, nil
}
