package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/stellarpay/service/metrics"
	natspkg "github.com/brojonat/stellarpay/service/nats"
	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// PaymentFeed delivers the payment events the worker publishes on a subject.
// Delivery stops once ctx ends; a feed may also close the channel when it gives up.
type PaymentFeed interface {
	Subscribe(ctx context.Context, subject string) (<-chan *natspkg.PaymentEvent, error)
}

// SSEPublisher is the PaymentFeed backed by the worker's JetStream stream.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher connects to NATS for re-broadcasting payment events.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("stellarpay-sse-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)
	return &SSEPublisher{nc: nc, js: js, logger: logger}, nil
}

// Subscribe opens an ephemeral consumer on subject delivering only new events.
func (p *SSEPublisher) Subscribe(ctx context.Context, subject string) (<-chan *natspkg.PaymentEvent, error) {
	cons, err := p.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject:     subject,
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	events := make(chan *natspkg.PaymentEvent, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		msg.Ack()
		var event natspkg.PaymentEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			p.logger.WarnContext(ctx, "failed to unmarshal payment event", "subject", msg.Subject(), "error", err)
			return
		}
		select {
		case events <- &event:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
	}()
	return events, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// handleStreamPayments streams published payments as Server-Sent Events.
// Without an address path parameter every watched account is streamed. The
// optional memo query parameter keeps only payments carrying that memo.
func handleStreamPayments(feed PaymentFeed, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		address := r.PathValue("address")
		memo := r.URL.Query().Get("memo")

		subject := natspkg.StreamSubjects
		accountDesc := "all accounts"
		if address != "" {
			if !stellar.IsValidAddress(address) {
				writeError(w, "invalid address", http.StatusBadRequest)
				return
			}
			subject = natspkg.Subject(address)
			accountDesc = address
		}

		events, err := feed.Subscribe(ctx, subject)
		if err != nil {
			logger.ErrorContext(ctx, "failed to subscribe to payment events",
				"account", accountDesc,
				"error", err,
			)
			writeError(w, "payment stream unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		rc := http.NewResponseController(w)

		logger.DebugContext(ctx, "SSE client connected",
			"account", accountDesc,
			"remote_addr", r.RemoteAddr,
		)
		if m != nil {
			m.RecordSSEConnectionChange(accountDesc, 1)
			defer m.RecordSSEConnectionChange(accountDesc, -1)
		}

		connected, _ := json.Marshal(map[string]string{"account": accountDesc, "memo": memo})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
		rc.Flush()

		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				rc.Flush()

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"account", accountDesc,
					"remote_addr", r.RemoteAddr,
				)
				return

			case event, ok := <-events:
				if !ok {
					return
				}
				if memo != "" && event.Memo != memo {
					continue
				}

				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal event", "error", err)
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: payment\ndata: %s\n\n", event.MessageID(), data)
				rc.Flush()

				if m != nil {
					m.RecordSSEEventSent(accountDesc, "payment")
				}
				logger.DebugContext(ctx, "sent payment event",
					"account", accountDesc,
					"hash", event.TransactionHash,
				)
			}
		}
	})
}
