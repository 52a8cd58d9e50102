package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/stellarpay/service/metrics"
	"github.com/brojonat/stellarpay/service/stellar"
)

// PaymentStreamer is the push transport for an account's payments.
type PaymentStreamer interface {
	StreamPayments(ctx context.Context, address, cursor string, onMessage func([]byte), onError func(error)) error
}

// Enricher fetches a notification's parent transaction and normalizes it.
type Enricher interface {
	Enrich(ctx context.Context, op stellar.OperationRecord) (*stellar.Transaction, error)
}

// DeadLetterSink receives notifications the listener dropped.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, address string, payload []byte, cause error) error
}

// Options tunes a Listener.
type Options struct {
	// Concurrency is the number of enrichment fetches in flight per subscription.
	Concurrency int
	// Cursor is where new subscriptions start; empty means "now".
	Cursor string
	// Buffer is the capacity of the Events and Errors channels.
	Buffer int
	// DeadLetters, if set, receives every dropped notification.
	DeadLetters DeadLetterSink
}

// Listener opens payment subscriptions and enriches each notification with its memo.
type Listener struct {
	stream   PaymentStreamer
	enricher Enricher
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewListener creates a listener. A nil metrics disables instrumentation.
func NewListener(stream PaymentStreamer, enricher Enricher, opts Options, m *metrics.Metrics, logger *slog.Logger) *Listener {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Listener{
		stream:   stream,
		enricher: enricher,
		opts:     opts,
		metrics:  m,
		logger:   logger,
	}
}

// Subscription is one open payment stream for an address.
type Subscription struct {
	address string
	events  chan stellar.PaymentEvent
	errs    chan error
	cancel  context.CancelFunc
	done    chan struct{}
}

// Address returns the watched account.
func (s *Subscription) Address() string { return s.address }

// Events delivers enriched payments in arrival order. It is closed after Stop.
func (s *Subscription) Events() <-chan stellar.PaymentEvent { return s.events }

// Errors reports transport and per-notification failures. Sends never block,
// so errors are dropped when nobody reads. It is closed after Stop.
func (s *Subscription) Errors() <-chan error { return s.errs }

// Done is closed once the subscription has fully shut down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Stop closes the subscription and waits for its goroutines to exit.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// pending is one notification moving through enrichment.
type pending struct {
	ready chan struct{}
	event stellar.PaymentEvent
	err   error
}

// Listen opens a subscription for address. It returns stellar.ErrInvalidAddress
// without connecting when the address is malformed. The subscription lives
// until ctx is cancelled or Stop is called.
func (l *Listener) Listen(ctx context.Context, address string) (*Subscription, error) {
	if !stellar.IsValidAddress(address) {
		return nil, stellar.ErrInvalidAddress
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		address: address,
		events:  make(chan stellar.PaymentEvent, l.opts.Buffer),
		errs:    make(chan error, l.opts.Buffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	queue := make(chan *pending, l.opts.Concurrency)
	sem := make(chan struct{}, l.opts.Concurrency)
	var workers sync.WaitGroup

	onMessage := func(data []byte) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		p := &pending{ready: make(chan struct{})}
		payload := append([]byte(nil), data...)

		workers.Add(1)
		go func() {
			defer workers.Done()
			defer func() { <-sem }()
			defer close(p.ready)
			p.event, p.err = l.enrich(ctx, address, payload)
			if p.err != nil {
				l.drop(ctx, sub, payload, p.err)
			}
		}()

		select {
		case queue <- p:
		case <-ctx.Done():
		}
	}

	onError := func(err error) {
		sub.report(err)
	}

	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		for p := range queue {
			select {
			case <-p.ready:
			case <-ctx.Done():
				continue
			}
			if p.err != nil {
				continue
			}
			select {
			case sub.events <- p.event:
				if l.metrics != nil {
					l.metrics.RecordNotification(address, "delivered")
				}
			case <-ctx.Done():
			}
		}
	}()

	if l.metrics != nil {
		l.metrics.RecordSubscriptionChange(address, 1)
	}
	l.logger.InfoContext(ctx, "payment subscription opened", "address", address)

	go func() {
		err := l.stream.StreamPayments(ctx, address, l.opts.Cursor, onMessage, onError)
		if err != nil && !errors.Is(err, context.Canceled) {
			sub.report(&stellar.StreamError{Address: address, Err: err})
		}

		close(queue)
		<-emitted
		workers.Wait()

		close(sub.events)
		close(sub.errs)
		if l.metrics != nil {
			l.metrics.RecordSubscriptionChange(address, -1)
		}
		l.logger.Info("payment subscription closed", "address", address)
		close(sub.done)
	}()

	return sub, nil
}

// enrich decodes one pushed record and attaches its parent transaction's memo.
func (l *Listener) enrich(ctx context.Context, address string, data []byte) (stellar.PaymentEvent, error) {
	start := time.Now()

	op, err := stellar.ParseOperationRecord(data)
	if err != nil {
		return stellar.PaymentEvent{}, &stellar.EnrichmentError{Address: address, Err: err}
	}
	hash := strings.ToLower(op.TransactionHash)

	transfer, err := op.Transfer()
	if err != nil {
		return stellar.PaymentEvent{}, &stellar.EnrichmentError{Address: address, Hash: hash, Err: err}
	}

	txn, err := l.enricher.Enrich(ctx, op)
	if err != nil {
		return stellar.PaymentEvent{}, &stellar.EnrichmentError{Address: address, Hash: hash, Err: err}
	}

	if l.metrics != nil {
		l.metrics.RecordEnrichment(address, time.Since(start).Seconds())
	}

	return stellar.PaymentEvent{
		Address:         address,
		ID:              op.ID,
		PagingToken:     op.PagingToken,
		TransactionHash: hash,
		OperationType:   op.Type,
		SourceAccount:   op.SourceAccount,
		Destination:     transfer.Destination(),
		Amount:          transfer.Amount(),
		CreatedAt:       op.CreatedAt,
		Memo:            txn.Memo,
		Transaction:     txn,
	}, nil
}

func (l *Listener) drop(ctx context.Context, sub *Subscription, payload []byte, err error) {
	if ctx.Err() != nil {
		// Stop abandoned the fetch; nothing was wrong with the notification.
		return
	}

	l.logger.WarnContext(ctx, "dropping payment notification", "address", sub.address, "error", err)
	if l.metrics != nil {
		l.metrics.RecordNotification(sub.address, "dropped")
	}
	sub.report(err)

	if l.opts.DeadLetters != nil {
		if dlqErr := l.opts.DeadLetters.DeadLetter(ctx, sub.address, payload, err); dlqErr != nil {
			l.logger.ErrorContext(ctx, "failed to dead-letter notification", "address", sub.address, "error", dlqErr)
		}
	}
}

// report sends err without blocking.
func (s *Subscription) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
