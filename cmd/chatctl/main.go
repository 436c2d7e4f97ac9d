package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

// Flags holds the global options shared by every subcommand.
type Flags struct {
	LogLevel string
	Server   string
	Token    string
}

func main() {
	_ = godotenv.Load()
	if err := setupLogger("info"); err != nil {
		panic(err)
	}

	flags := &Flags{}
	app := &cli.Command{
		Name:  "chatctl",
		Usage: "Development client for the chat service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("CHATCTL_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "server",
				Usage:       "chat service base URL",
				Sources:     cli.EnvVars("CHATCTL_SERVER"),
				Value:       "http://localhost:8000",
				Destination: &flags.Server,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "access token sent as a bearer credential",
				Sources:     cli.EnvVars("CHATCTL_TOKEN"),
				Destination: &flags.Token,
			},
		},
		Before: func(ctx context.Context, _ *cli.Command) (context.Context, error) {
			return ctx, setupLogger(flags.LogLevel)
		},
		Commands: []*cli.Command{
			newTokenCmd(),
			newUserCmd(),
			newListenCmd(flags),
			newSendCmd(flags),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("chatctl failed")
		os.Exit(1)
	}
}

func setupLogger(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(parsed)
	return nil
}
