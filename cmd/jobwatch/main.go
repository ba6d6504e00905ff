package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Console logging on stderr; stdout carries job output.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cmd := &cli.Command{
		Name:  "jobwatch",
		Usage: "Start and follow catalog import jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a jobwatch.yaml file",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment file loaded before the configuration",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve prometheus metrics on this address (e.g. :9090)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Sign in and store the session",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "email",
						Usage:    "account email",
						Sources:  cli.EnvVars("JOBWATCH_EMAIL"),
						Required: true,
					},
					&cli.StringFlag{
						Name:     "password",
						Usage:    "account password",
						Sources:  cli.EnvVars("JOBWATCH_PASSWORD"),
						Required: true,
					},
				},
				Action: withApp(logger, loginAction),
			},
			{
				Name:   "logout",
				Usage:  "Forget the stored session",
				Action: withApp(logger, logoutAction),
			},
			{
				Name:      "run",
				Usage:     "Start a job (e.g. filmes, series) and follow it",
				ArgsUsage: "<action>",
				Action:    withApp(logger, runAction),
			},
			{
				Name:      "watch",
				Usage:     "Follow a job, or the one viewed last",
				ArgsUsage: "[job-id]",
				Action:    withApp(logger, watchAction),
			},
			{
				Name:      "status",
				Usage:     "Print a job's progress once",
				ArgsUsage: "<job-id>",
				Action:    withApp(logger, statusAction),
			},
			{
				Name:      "history",
				Usage:     "List past jobs, optionally of one action or status",
				ArgsUsage: "[action]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "only jobs in this status (queued, running, finished, failed)",
					},
					&cli.IntFlag{
						Name:  "page",
						Usage: "page number, starting at 1",
						Value: 1,
					},
					&cli.IntFlag{
						Name:  "page-size",
						Usage: "jobs per page (the server caps it at 100)",
						Value: 20,
					},
				},
				Action: withApp(logger, historyAction),
			},
			{
				Name:      "log",
				Usage:     "Print one stored log entry",
				ArgsUsage: "<log-id>",
				Action:    withApp(logger, logAction),
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Fatal().Err(err).Msg("jobwatch failed")
	}
}
