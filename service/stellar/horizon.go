package stellar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/stellarpay/service/metrics"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
)

// NetworkPassphrase maps a network name to the passphrase signatures commit to.
func NetworkPassphrase(name string) (string, error) {
	switch name {
	case "testnet", "test", "":
		return network.TestNetworkPassphrase, nil
	case "public", "mainnet", "pubnet":
		return network.PublicNetworkPassphrase, nil
	default:
		return "", fmt.Errorf("unknown stellar network %q (want testnet or public)", name)
	}
}

// HorizonClient is the subset of horizonclient.Client the adapter calls.
type HorizonClient interface {
	AccountDetail(request horizonclient.AccountRequest) (hProtocol.Account, error)
	SubmitTransaction(transaction *txnbuild.Transaction) (hProtocol.Transaction, error)
}

// Horizon adapts the Horizon SDK to the account, envelope, and submission
// operations the payment pipeline needs.
type Horizon struct {
	client     HorizonClient
	passphrase string
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewHorizonClient creates an SDK client for horizonURL.
func NewHorizonClient(horizonURL string, timeout time.Duration) *horizonclient.Client {
	return &horizonclient.Client{
		HorizonURL: horizonURL,
		HTTP:       &http.Client{Timeout: timeout},
	}
}

// NewHorizon creates the adapter. If m is nil no metrics are recorded.
func NewHorizon(client HorizonClient, passphrase string, m *metrics.Metrics, logger *slog.Logger) *Horizon {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Horizon{client: client, passphrase: passphrase, metrics: m, logger: logger}
}

// Passphrase returns the network passphrase envelopes are signed for.
func (h *Horizon) Passphrase() string { return h.passphrase }

// LoadAccount fetches account state. ErrAccountNotFound is returned for a 404.
func (h *Horizon) LoadAccount(ctx context.Context, address string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	detail, err := h.client.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	h.record("AccountDetail", err, start)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("account detail: %w", err)
	}

	seq, err := detail.GetSequenceNumber()
	if err != nil {
		return nil, fmt.Errorf("account sequence: %w", err)
	}

	native := decimal.Zero
	for _, b := range detail.Balances {
		if b.Asset.Type != "native" {
			continue
		}
		native, err = decimal.NewFromString(b.Balance)
		if err != nil {
			return nil, fmt.Errorf("native balance %q: %w", b.Balance, err)
		}
		break
	}

	return &Account{ID: detail.AccountID, Sequence: seq, NativeBalance: native}, nil
}

// AccountSequence returns the current sequence number of address.
func (h *Horizon) AccountSequence(ctx context.Context, address string) (int64, error) {
	account, err := h.LoadAccount(ctx, address)
	if err != nil {
		return 0, err
	}
	return account.Sequence, nil
}

// BuildEnvelope builds an unsigned single-operation transaction with a text memo,
// the minimum base fee, and a time bound of p.TimeoutSeconds.
func (h *Horizon) BuildEnvelope(p EnvelopeParams) (*Envelope, error) {
	var op txnbuild.Operation
	switch p.Kind {
	case OperationPayment:
		op = &txnbuild.Payment{
			Destination: p.Destination,
			Amount:      p.Amount,
			Asset:       txnbuild.NativeAsset{},
		}
	case OperationCreateAccount:
		op = &txnbuild.CreateAccount{
			Destination: p.Destination,
			Amount:      p.Amount,
		}
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedOperation, p.Kind)
	}

	timeout := p.TimeoutSeconds
	if timeout <= 0 {
		timeout = SubmissionTimeoutSeconds
	}

	source := txnbuild.NewSimpleAccount(p.SourceAddress, p.Sequence)
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &source,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              txnbuild.MinBaseFee,
		Memo:                 txnbuild.MemoText(p.Memo),
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(timeout)},
	})
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	return h.envelope(p, tx, false)
}

// SignEnvelope signs env with kp for the configured network.
func (h *Horizon) SignEnvelope(env *Envelope, kp Keypair) (*Envelope, error) {
	if env == nil || env.tx == nil {
		return nil, errors.New("sign: envelope was not built by this adapter")
	}
	full, err := keypair.ParseFull(kp.Secret())
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	signed, err := env.tx.Sign(h.passphrase, full)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return h.envelope(env.Params, signed, true)
}

// SubmitEnvelope submits a signed envelope and returns its hash. A ledger
// verdict is returned as *SubmissionRejection; any other error means the
// outcome is unknown.
func (h *Horizon) SubmitEnvelope(ctx context.Context, env *Envelope) (string, error) {
	if env == nil || !env.Signed {
		return "", errors.New("submit: envelope is not signed")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := h.client.SubmitTransaction(env.tx)
	h.record("SubmitTransaction", err, start)
	if err != nil {
		return "", classifySubmitError(err)
	}

	h.logger.DebugContext(ctx, "transaction accepted", "hash", resp.Hash, "ledger", resp.Ledger)
	return resp.Hash, nil
}

func (h *Horizon) envelope(p EnvelopeParams, tx *txnbuild.Transaction, signed bool) (*Envelope, error) {
	hash, err := tx.HashHex(h.passphrase)
	if err != nil {
		return nil, fmt.Errorf("hash transaction: %w", err)
	}
	xdr, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return &Envelope{Params: p, Signed: signed, Hash: hash, XDR: xdr, tx: tx}, nil
}

// isNotFound reports a missing resource by problem type or by a bare 404.
func isNotFound(err error) bool {
	if horizonclient.IsNotFoundError(err) {
		return true
	}
	herr := horizonclient.GetError(err)
	return herr != nil && herr.Problem.Status == http.StatusNotFound
}

func (h *Horizon) record(method string, err error, start time.Time) {
	if h.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.RecordHorizonCall(method, status, time.Since(start).Seconds())
}

// classifySubmitError separates ledger verdicts from transport failures.
// A 504 means Horizon gave up waiting, not that the ledger rejected the envelope.
func classifySubmitError(err error) error {
	herr := horizonclient.GetError(err)
	if herr == nil || herr.Problem.Status == http.StatusGatewayTimeout {
		return fmt.Errorf("submit transaction: %w", err)
	}

	rej := &SubmissionRejection{
		Status: herr.Problem.Status,
		Title:  herr.Problem.Title,
	}
	if codes, cerr := herr.ResultCodes(); cerr == nil && codes != nil {
		rej.TransactionCode = codes.TransactionCode
		rej.OperationCodes = codes.OperationCodes
	}
	if rej.TransactionCode != "" {
		rej.Message = fmt.Sprintf("transaction rejected: %s %v", rej.TransactionCode, rej.OperationCodes)
	} else if herr.Problem.Detail != "" {
		rej.Message = "transaction rejected: " + herr.Problem.Detail
	}
	return rej
}
