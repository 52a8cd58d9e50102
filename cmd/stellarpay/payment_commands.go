package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/stellarpay/client"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send lumens through the server",
		ArgsUsage: "DESTINATION AMOUNT",
		Description: `Submit a native payment. The source account is derived from the secret seed,
which is read from --secret or the STELLAR_SECRET environment variable.

Example:
  stellarpay send GDEST... 12.5 --memo invoice-42`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "secret",
				Usage:   "Secret seed of the source account",
				EnvVars: []string{"STELLAR_SECRET"},
			},
			&cli.StringFlag{
				Name:  "memo",
				Usage: "Text memo (at most 28 bytes)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   2 * time.Minute,
				Usage:   "How long to wait for the ledger",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: destination and amount")
			}
			secret := c.String("secret")
			if secret == "" {
				return fmt.Errorf("secret is required (set STELLAR_SECRET env var or use --secret)")
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			result, err := newServiceClient(c).Submit(ctx, client.PaymentRequest{
				Secret:      secret,
				Destination: c.Args().Get(0),
				Amount:      c.Args().Get(1),
				Memo:        c.String("memo"),
			})
			if err != nil {
				return describeAPIError(err)
			}

			out := c.App.Writer
			if c.Bool("json") {
				return outputJSON(out, result)
			}

			fmt.Fprintf(out, "Status:      %s\n", result.Status)
			fmt.Fprintf(out, "Hash:        %s\n", result.TransactionHash)
			if result.PaymentID != nil {
				fmt.Fprintf(out, "Payment ID:  %s\n", result.PaymentID)
			}
			if r := result.Receipt; r != nil {
				fmt.Fprintf(out, "Source:      %s\n", r.Source)
				fmt.Fprintf(out, "Destination: %s\n", r.Destination)
				fmt.Fprintf(out, "Amount:      %s XLM (%s)\n", r.Amount, r.OperationKind)
				fmt.Fprintf(out, "Sequence:    %d\n", r.Sequence)
			}
			if result.WorkflowID != "" {
				fmt.Fprintf(out, "Reconcile:   %s\n", result.WorkflowID)
			}
			if result.Error != "" {
				fmt.Fprintf(out, "Error:       %s\n", result.Error)
			}
			return nil
		},
	}
}

func transactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "tx",
		Aliases:   []string{"transaction"},
		Usage:     "Show the details of a transaction",
		ArgsUsage: "HASH",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}

			txn, err := newServiceClient(c).Transaction(c.Context, c.Args().First())
			if err != nil {
				return describeAPIError(err)
			}

			out := c.App.Writer
			if c.Bool("json") {
				return outputJSON(out, txn)
			}
			printTransaction(out, txn)
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the native balance of an account",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}

			b, err := newServiceClient(c).Balance(c.Context, c.Args().First())
			if err != nil {
				return describeAPIError(err)
			}

			out := c.App.Writer
			if c.Bool("json") {
				return outputJSON(out, b)
			}
			if !b.Exists {
				fmt.Fprintf(out, "%s: account does not exist\n", b.Address)
				return nil
			}
			fmt.Fprintf(out, "%s: %s XLM\n", b.Address, b.Balance.StringFixed(7))
			return nil
		},
	}
}

func paymentCommand() *cli.Command {
	return &cli.Command{
		Name:      "payment",
		Usage:     "Show a recorded payment attempt",
		ArgsUsage: "PAYMENT_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: payment id")
			}
			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid payment id: %w", err)
			}

			p, err := newServiceClient(c).Payment(c.Context, id)
			if err != nil {
				return describeAPIError(err)
			}

			out := c.App.Writer
			if c.Bool("json") {
				return outputJSON(out, p)
			}
			fmt.Fprintf(out, "ID:          %s\n", p.ID)
			fmt.Fprintf(out, "Status:      %s\n", p.Status)
			fmt.Fprintf(out, "Source:      %s\n", p.Source)
			fmt.Fprintf(out, "Destination: %s\n", p.Destination)
			fmt.Fprintf(out, "Amount:      %s XLM\n", p.Amount)
			if p.TransactionHash != nil {
				fmt.Fprintf(out, "Hash:        %s\n", *p.TransactionHash)
			}
			if p.Error != nil {
				fmt.Fprintf(out, "Error:       %s\n", *p.Error)
			}
			fmt.Fprintf(out, "Created:     %s\n", p.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newServiceClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

// describeAPIError adds the ledger's result codes to a rejected submission.
func describeAPIError(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.TransactionCode == "" {
		return err
	}
	return fmt.Errorf("%w (transaction: %s, operations: %v)", err, apiErr.TransactionCode, apiErr.OperationCodes)
}

func printTransaction(out io.Writer, txn *client.Transaction) {
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(out, "Hash:        %s\n", txn.TransactionHash)
	fmt.Fprintf(out, "From:        %s\n", txn.SenderAddress)
	fmt.Fprintf(out, "To:          %s\n", txn.DestinationAddress)
	fmt.Fprintf(out, "Amount:      %s XLM (%s)\n", txn.Amount, txn.OperationType)
	fmt.Fprintf(out, "Fee:         %s XLM\n", txn.FeePaid.String())
	fmt.Fprintf(out, "Successful:  %t\n", txn.Successful)
	if txn.TimestampUnixSeconds > 0 {
		ts := time.Unix(0, int64(txn.TimestampUnixSeconds*1e9)).UTC()
		fmt.Fprintf(out, "Time:        %s\n", ts.Format(time.RFC3339))
	}
	if txn.Memo != "" {
		fmt.Fprintf(out, "Memo:        %s\n", txn.Memo)
	}
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func outputJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
