package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brojonat/stellarpay/service/temporal"
	"github.com/urfave/cli/v2"
)

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:      "reconcile",
		Usage:     "Start a reconcile workflow for a submitted transaction",
		ArgsUsage: "HASH",
		Description: `Ask the worker to look the transaction up on the ledger until it appears or the
timeout passes, then record its outcome and publish it.

Example:
  stellarpay temporal reconcile 3389e9f0f1a65f19736cacf544c2e825313e8447f569233bb8db39aa607c8889 --wait`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "address",
				Usage: "Account whose subject receives the published outcome (default: sender)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long the workflow keeps looking for the transaction",
				Value: temporal.DefaultReconcileTimeout,
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Block until the workflow completes and print its result",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			input := temporal.ReconcilePaymentInput{
				TransactionHash: strings.ToLower(c.Args().First()),
				Address:         c.String("address"),
				Timeout:         c.Duration("timeout"),
			}
			return runReconcile(c.Context, tc, input, c.Bool("wait"), time.Second, c.Bool("json"), c.App.Writer)
		},
	}
}

func reconcileResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Show the outcome of a reconcile workflow",
		ArgsUsage: "HASH",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			result, err := tc.ReconcileResult(c.Context, strings.ToLower(c.Args().First()))
			if errors.Is(err, temporal.ErrReconcileRunning) {
				fmt.Fprintln(c.App.Writer, "reconcile is still running")
				return nil
			}
			if err != nil {
				return err
			}
			return printReconcileResult(c.App.Writer, result, c.Bool("json"))
		},
	}
}

func runReconcile(ctx context.Context, r temporal.Reconciler, input temporal.ReconcilePaymentInput, wait bool, pollEvery time.Duration, jsonOutput bool, out io.Writer) error {
	workflowID, err := r.StartReconcile(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to start reconcile: %w", err)
	}
	if !jsonOutput {
		fmt.Fprintf(out, "✓ Reconcile started: %s\n", workflowID)
	}
	if !wait {
		if jsonOutput {
			return outputJSON(out, map[string]string{"workflow_id": workflowID})
		}
		return nil
	}

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		result, err := r.ReconcileResult(ctx, input.TransactionHash)
		if err == nil {
			return printReconcileResult(out, result, jsonOutput)
		}
		if !errors.Is(err, temporal.ErrReconcileRunning) {
			return fmt.Errorf("failed to get reconcile result: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printReconcileResult(out io.Writer, result *temporal.ReconcilePaymentResult, jsonOutput bool) error {
	if jsonOutput {
		return outputJSON(out, result)
	}
	fmt.Fprintf(out, "Hash:        %s\n", result.TransactionHash)
	fmt.Fprintf(out, "Status:      %s\n", result.Status)
	fmt.Fprintf(out, "Updated:     %d payments\n", result.PaymentsUpdated)
	fmt.Fprintf(out, "Published:   %t\n", result.Published)
	if !result.ReconciledAt.IsZero() {
		fmt.Fprintf(out, "Reconciled:  %s\n", result.ReconciledAt.Format(time.RFC3339))
	}
	if result.Error != nil {
		fmt.Fprintf(out, "Error:       %s\n", *result.Error)
	}
	return nil
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
	if err != nil {
		return nil, err
	}
	return tc, nil
}
