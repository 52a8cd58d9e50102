package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/stellarpay/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to payment events published by the worker.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to payment events for an account",
		ArgsUsage: "[address]",
		Description: `Subscribe to payment events published to NATS JetStream by the worker.

Events are published to the subject payments.{address}. Without an address every
watched account is streamed.

Example:
  stellarpay nats subscribe GABC... --must-jq '.successful' --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "stellarpay-cli",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: account address")
			}
			filter, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			subject := natspkg.StreamSubjects
			if c.NArg() == 1 {
				subject = natspkg.Subject(c.Args().First())
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return streamPayments(ctx, c.String("nats-url"), subject, c.Bool("durable"), c.String("consumer-name"), filter, c.Bool("json"), c.App.Writer)
		},
	}
}

// streamPayments connects to NATS and prints payment events on subject until ctx ends.
func streamPayments(ctx context.Context, natsURL, subject string, durable bool, consumerName string, filter *eventFilter, jsonOutput bool, out io.Writer) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(os.Stderr, "   NATS: %s\n", natsURL)
		if durable {
			fmt.Fprintf(os.Stderr, "   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Fprintf(os.Stderr, "\nWaiting for payments... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.PaymentEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			ok, err := filter.Match(event)
			if err != nil {
				fmt.Fprintf(os.Stderr, "jq filter error: %v\n", err)
				continue
			}
			if !ok {
				continue
			}
			count++

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Fprintln(out, string(data))
				continue
			}
			fmt.Fprintf(out, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(out, "Payment #%d\n", count)
			fmt.Fprintf(out, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(out, "Hash:         %s\n", event.TransactionHash)
			fmt.Fprintf(out, "Account:      %s\n", event.Address)
			fmt.Fprintf(out, "From:         %s\n", event.SourceAccount)
			fmt.Fprintf(out, "To:           %s\n", event.Destination)
			fmt.Fprintf(out, "Amount:       %s XLM (%s)\n", event.Amount, event.OperationType)
			fmt.Fprintf(out, "Successful:   %t\n", event.Successful)
			if event.Memo != "" {
				fmt.Fprintf(out, "Memo:         %s\n", event.Memo)
			}
			fmt.Fprintf(out, "Created:      %s\n", event.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\n✅ Received %d payments\n", count)
			}
			return nil
		}
	}
}
