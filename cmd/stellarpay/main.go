package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "stellarpay",
		Usage: "Stellar native payment service CLI",
		Description: `A command-line tool for sending lumens and inspecting the stellarpay service.

Payment commands talk to the HTTP server. The listen command connects to Horizon directly.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Payment commands (HTTP API)
			sendCommand(),
			transactionCommand(),
			balanceCommand(),
			paymentCommand(),
			// Direct ledger commands
			listenCommand(),
			keygenCommand(),
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listPaymentsCommand(),
					listTransactionsCommand(),
				},
			},
			// Temporal reconcile commands
			{
				Name:  "temporal",
				Usage: "Temporal reconcile commands",
				Subcommands: []*cli.Command{
					reconcileCommand(),
					reconcileResultCommand(),
				},
			},
			// NATS payment streaming commands
			{
				Name:  "nats",
				Usage: "NATS payment streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			// Dead letter inspection
			{
				Name:  "dlq",
				Usage: "Dead letter queue commands",
				Subcommands: []*cli.Command{
					listDeadLettersCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "stellarpay server URL",
			EnvVars: []string{"SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "horizon-url",
			Usage:   "Horizon server URL",
			EnvVars: []string{"HORIZON_URL"},
			Value:   "https://horizon-testnet.stellar.org",
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "temporal-host",
			Usage:   "Temporal server address",
			EnvVars: []string{"TEMPORAL_HOST"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "temporal-task-queue",
			Usage:   "Temporal task queue of the reconcile worker",
			EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			Value:   "stellarpay-reconcile",
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL holding the dead letter queue",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
	}
}
