package stellar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/stellarpay/service/metrics"
)

// Problem is a Horizon error document (RFC 7807 with extras).
type Problem struct {
	Type   string         `json:"type"`
	Title  string         `json:"title"`
	Status int            `json:"status"`
	Detail string         `json:"detail"`
	Extras map[string]any `json:"extras,omitempty"`
}

// ProblemError is a non-2xx response from the query service.
type ProblemError struct {
	Problem
}

func (e *ProblemError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("horizon: %s (status %d): %s", e.Title, e.Status, e.Detail)
	}
	return fmt.Sprintf("horizon: %s (status %d)", e.Title, e.Status)
}

// InvalidField returns extras.invalid_field, if present.
func (e *ProblemError) InvalidField() string {
	if e.Extras == nil {
		return ""
	}
	field, _ := e.Extras["invalid_field"].(string)
	return field
}

// IsNotFound reports whether the service answered 404.
func (e *ProblemError) IsNotFound() bool { return e.Status == http.StatusNotFound }

// isInvalidTxID reports the documented "invalid field: tx_id" rejection.
func isInvalidTxID(err error) bool {
	var perr *ProblemError
	if !errors.As(err, &perr) {
		return false
	}
	return perr.Status == http.StatusBadRequest && perr.InvalidField() == "tx_id"
}

// IsTransactionNotFound reports whether err is the query service's 404 for a hash.
func IsTransactionNotFound(err error) bool {
	var perr *ProblemError
	return errors.As(err, &perr) && perr.IsNotFound()
}

// QueryClient reads transaction records from Horizon over plain HTTP so the raw
// record bytes survive for auditing.
type QueryClient struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewQueryClient creates a query client rooted at baseURL.
// If httpClient is nil a client with a 30s timeout is used; if m is nil no metrics are recorded.
func NewQueryClient(baseURL string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *QueryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &QueryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}
}

// TransactionDetail fetches GET /transactions/{hash}.
func (c *QueryClient) TransactionDetail(ctx context.Context, hash string) (*TransactionRecord, error) {
	var tx TransactionRecord
	if err := c.get(ctx, "TransactionDetail", "/transactions/"+url.PathEscape(hash), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// TransactionOperations fetches GET /transactions/{hash}/operations.
func (c *QueryClient) TransactionOperations(ctx context.Context, hash string) ([]OperationRecord, error) {
	var page struct {
		Embedded struct {
			Records []json.RawMessage `json:"records"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "TransactionOperations", "/transactions/"+url.PathEscape(hash)+"/operations", &page); err != nil {
		return nil, err
	}

	ops := make([]OperationRecord, 0, len(page.Embedded.Records))
	for _, raw := range page.Embedded.Records {
		op, err := ParseOperationRecord(raw)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (c *QueryClient) get(ctx context.Context, method, path string, out any) error {
	start := time.Now()
	err := c.do(ctx, path, out)

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordHorizonCall(method, status, time.Since(start).Seconds())
	}
	return err
}

func (c *QueryClient) do(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseProblem(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseProblem turns an error response into a ProblemError, keeping the status
// even when the body is not a problem document.
func parseProblem(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	perr := &ProblemError{}
	if err := json.Unmarshal(body, &perr.Problem); err != nil || perr.Title == "" {
		perr.Title = http.StatusText(resp.StatusCode)
		perr.Detail = strings.TrimSpace(string(body))
	}
	if perr.Status == 0 {
		perr.Status = resp.StatusCode
	}
	return perr
}
