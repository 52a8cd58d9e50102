package stellar

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/stellarpay/service/metrics"
	"github.com/cenkalti/backoff/v4"
)

// Horizon frames the stream with these JSON string payloads.
const (
	streamHello  = `"hello"`
	streamByebye = `"byebye"`
)

// PaymentStream holds a server-sent-events subscription to an account's payments
// open, reconnecting from the last seen event id after any disconnect.
type PaymentStream struct {
	baseURL      string
	httpClient   *http.Client
	maxReconnect time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewPaymentStream creates a stream client rooted at baseURL.
// maxReconnect caps the delay between reconnect attempts.
func NewPaymentStream(baseURL string, maxReconnect time.Duration, m *metrics.Metrics, logger *slog.Logger) *PaymentStream {
	if maxReconnect <= 0 {
		maxReconnect = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &PaymentStream{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 0}, // streams stay open indefinitely
		maxReconnect: maxReconnect,
		metrics:      m,
		logger:       logger,
	}
}

// StreamPayments delivers every payment record pushed for address to onMessage,
// in arrival order, until ctx is cancelled. Transport failures go to onError and
// the stream reconnects with capped exponential backoff. An empty cursor means "now".
func (s *PaymentStream) StreamPayments(ctx context.Context, address, cursor string, onMessage func([]byte), onError func(error)) error {
	if !IsValidAddress(address) {
		return ErrInvalidAddress
	}
	if cursor == "" {
		cursor = "now"
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = min(500*time.Millisecond, s.maxReconnect)
	bo.MaxInterval = s.maxReconnect
	bo.MaxElapsedTime = 0
	retry := backoff.WithContext(bo, ctx)

	for {
		last, delivered, err := s.connect(ctx, address, cursor, onMessage)
		if last != "" {
			cursor = last
		}
		if ctx.Err() != nil {
			return nil
		}
		if delivered > 0 {
			bo.Reset()
		}
		if err != nil {
			s.logger.WarnContext(ctx, "payment stream disconnected",
				"address", address,
				"cursor", cursor,
				"error", err,
			)
			if onError != nil {
				onError(&StreamError{Address: address, Err: err})
			}
		}

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return nil
		}
		if s.metrics != nil {
			s.metrics.RecordStreamReconnect(address)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// connect runs one connection. It returns the last event id seen, the number of
// records delivered, and the error that ended the connection (nil on a clean close).
func (s *PaymentStream) connect(ctx context.Context, address, cursor string, onMessage func([]byte)) (string, int, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/payments?cursor=%s", s.baseURL, url.PathEscape(address), url.QueryEscape(cursor))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, parseProblem(resp)
	}

	s.logger.DebugContext(ctx, "payment stream connected", "address", address, "cursor", cursor)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var (
		lastID    string
		delivered int
		eventID   string
		data      []string
	)
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line terminates an event.
		if line == "" {
			if len(data) > 0 {
				payload := strings.Join(data, "\n")
				if eventID != "" {
					lastID = eventID
				}
				if payload != streamHello && payload != streamByebye {
					if s.metrics != nil {
						s.metrics.RecordStreamMessage(address)
					}
					onMessage([]byte(payload))
					delivered++
				}
			}
			eventID = ""
			data = data[:0]
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return lastID, delivered, nil
		}
		return lastID, delivered, fmt.Errorf("error reading stream: %w", err)
	}
	return lastID, delivered, nil
}
