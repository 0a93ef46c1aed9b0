package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appLog "weekcal/internal/log"
)

const version = "0.1.0"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		appLog.Error("weekcal failed", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "weekcal",
		Usage:   "serve a week-view calendar of upcoming events",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "./config.yaml",
				Usage:   "path to the YAML config file (created with defaults if missing)",
				Sources: cli.EnvVars("WEEKCAL_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "HTTP listen address (overrides config if set)",
					},
				},
				Action: runServe,
			},
			{
				Name:  "capture",
				Usage: "render the calendar once and save a PNG screenshot",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out",
						Usage: "output PNG path (overrides capture.output)",
					},
					&cli.StringFlag{
						Name:  "date",
						Usage: "any day of the week to capture (YYYY-MM-DD)",
					},
				},
				Action: runCapture,
			},
		},
		DefaultCommand: "serve",
	}
}
