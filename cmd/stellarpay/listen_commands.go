package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/stellarpay/service/listener"
	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/urfave/cli/v2"
)

func listenCommand() *cli.Command {
	return &cli.Command{
		Name:      "listen",
		Usage:     "Stream inbound payments for an account straight from Horizon",
		ArgsUsage: "ADDRESS",
		Description: `Open a Horizon payment stream for ADDRESS and print each payment with its memo.

Events can be filtered with jq expressions evaluated against the printed JSON.

Example:
  stellarpay listen GABC... --must-jq '.memo == "invoice-42"' --once`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
			&cli.StringFlag{
				Name:  "cursor",
				Usage: "Paging token to resume from (default: now)",
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Exit after the first matching payment",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Stop listening after this long (0 waits until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			address := c.Args().First()

			filter, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))
			horizonURL := c.String("horizon-url")
			stream := stellar.NewPaymentStream(horizonURL, 30*time.Second, nil, logger)
			query := stellar.NewQueryClient(horizonURL, &http.Client{Timeout: 30 * time.Second}, nil, logger)
			l := listener.NewListener(stream, stellar.NewNormalizer(query, logger), listener.Options{
				Cursor: c.String("cursor"),
			}, nil, logger)

			sub, err := l.Listen(ctx, address)
			if err != nil {
				return err
			}
			defer sub.Stop()

			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Listening for payments to %s... (Ctrl+C to stop)\n\n", address)
			}

			return consumeEvents(ctx, sub, filter, c.Bool("once"), jsonOutput, c.App.Writer)
		},
	}
}

// eventSource is the part of a listener subscription the CLI reads from.
type eventSource interface {
	Events() <-chan stellar.PaymentEvent
	Errors() <-chan error
	Done() <-chan struct{}
}

// consumeEvents prints matching events until ctx ends, the subscription closes,
// or, with once set, the first match is printed.
func consumeEvents(ctx context.Context, sub eventSource, filter *eventFilter, once, jsonOutput bool, out io.Writer) error {
	events, errs := sub.Events(), sub.Errors()
	for {
		select {
		case <-ctx.Done():
			if once && ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("no matching payment before timeout")
			}
			return nil
		case <-sub.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(os.Stderr, "listener error: %v\n", err)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			ok, err := filter.Match(ev)
			if err != nil {
				fmt.Fprintf(os.Stderr, "jq filter error: %v\n", err)
				continue
			}
			if !ok {
				continue
			}
			if jsonOutput {
				if err := outputJSON(out, ev); err != nil {
					return err
				}
			} else {
				printPaymentEvent(out, ev)
			}
			if once {
				return nil
			}
		}
	}
}

func printPaymentEvent(out io.Writer, ev stellar.PaymentEvent) {
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(out, "Hash:        %s\n", ev.TransactionHash)
	fmt.Fprintf(out, "From:        %s\n", ev.SourceAccount)
	fmt.Fprintf(out, "To:          %s\n", ev.Destination)
	fmt.Fprintf(out, "Amount:      %s XLM (%s)\n", ev.Amount, ev.OperationType)
	if !ev.CreatedAt.IsZero() {
		fmt.Fprintf(out, "Time:        %s\n", ev.CreatedAt.Format(time.RFC3339))
	}
	if ev.Memo != "" {
		fmt.Fprintf(out, "Memo:        %s\n", ev.Memo)
	}
	fmt.Fprintf(out, "Cursor:      %s\n", ev.PagingToken)
}
