package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/stellarpay/service/listener"
	natspkg "github.com/brojonat/stellarpay/service/nats"
	"github.com/brojonat/stellarpay/service/stellar"
)

type transactionStore interface {
	UpsertTransaction(ctx context.Context, txn *stellar.Transaction) error
}

type eventPublisher interface {
	PublishPayment(ctx context.Context, event *natspkg.PaymentEvent) error
}

// watcher records and republishes the enriched payments of watched accounts.
type watcher struct {
	listener  *listener.Listener
	store     transactionStore // may be nil
	publisher eventPublisher
	logger    *slog.Logger
}

// watch subscribes to address and handles its events until ctx is cancelled.
func (w *watcher) watch(ctx context.Context, address string) error {
	sub, err := w.listener.Listen(ctx, address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", address, err)
	}
	defer sub.Stop()

	w.logger.InfoContext(ctx, "watching account", "address", address)

	events, errs := sub.Events(), sub.Errors()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.DebugContext(ctx, "subscription error", "address", address, "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *watcher) handle(ctx context.Context, ev stellar.PaymentEvent) {
	if w.store != nil && ev.Transaction != nil {
		if err := w.store.UpsertTransaction(ctx, ev.Transaction); err != nil {
			w.logger.ErrorContext(ctx, "failed to store transaction",
				"address", ev.Address,
				"hash", ev.TransactionHash,
				"error", err,
			)
		}
	}

	if err := w.publisher.PublishPayment(ctx, natspkg.FromListenerEvent(ev)); err != nil {
		w.logger.ErrorContext(ctx, "failed to publish payment",
			"address", ev.Address,
			"hash", ev.TransactionHash,
			"error", err,
		)
		return
	}

	w.logger.InfoContext(ctx, "payment received",
		"address", ev.Address,
		"hash", ev.TransactionHash,
		"amount", ev.Amount,
		"memo", ev.Memo,
	)
}
