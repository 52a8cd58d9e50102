package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/brojonat/stellarpay/service/listener"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

func listDeadLettersCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List payment notifications the worker could not deliver",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "key",
				Usage: "Redis list holding the dead letters",
				Value: listener.DefaultDeadLetterList,
			},
			&cli.Int64Flag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of dead letters to show",
				Value:   100,
			},
		},
		Action: func(c *cli.Context) error {
			redisURL := c.String("redis-url")
			if redisURL == "" {
				return fmt.Errorf("redis-url is required (set REDIS_URL env var or use --redis-url)")
			}
			opts, err := redis.ParseURL(redisURL)
			if err != nil {
				return fmt.Errorf("invalid redis url: %w", err)
			}
			rdb := redis.NewClient(opts)
			defer rdb.Close()

			q := listener.NewDeadLetterQueue(rdb, c.String("key"), nil)
			return printDeadLetters(c.Context, q, c.Int64("limit"), c.Bool("json"), c.App.Writer)
		},
	}
}

func printDeadLetters(ctx context.Context, q *listener.DeadLetterQueue, limit int64, jsonOutput bool, out io.Writer) error {
	letters, err := q.List(ctx, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(out, letters)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FAILED AT\tADDRESS\tERROR")
	for _, l := range letters {
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.FailedAt.Format(time.RFC3339), l.Address, l.Error)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d dead letters\n", len(letters))
	return nil
}
