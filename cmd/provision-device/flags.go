package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

var flagEnvFile = &cli.StringFlag{
	Name:  "env-file",
	Value: ".env",
	Usage: "optional file of KEY=VALUE lines; environment variables take precedence",
}

var flagLogJSON = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var flagLogDebug = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var flagLogUID = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var commonFlags = []cli.Flag{
	flagEnvFile,
	flagLogJSON,
	flagLogDebug,
	flagLogUID,
}

// LoggingOpts selects the slog handler.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
}

func newLogger(w io.Writer, opts LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	return logger
}

func setupLogger(cCtx *cli.Context) *slog.Logger {
	logger := newLogger(os.Stderr, LoggingOpts{
		Debug:   cCtx.Bool(flagLogDebug.Name),
		JSON:    cCtx.Bool(flagLogJSON.Name),
		Service: cCtx.App.Name,
	})

	if cCtx.Bool(flagLogUID.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}
