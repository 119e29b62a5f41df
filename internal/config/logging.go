package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger builds this node's base zerolog.Logger. serverURL is stamped on
// every line (not just request-scoped ones, see middleware.CorrelationID) so
// that background-job logs — peer metadata refresh, sync polling, tombstone
// GC, none of which run inside an HTTP request — still identify their
// origin node once shipped to a federation-wide log aggregator.
func NewLogger(cfg LoggingConfig, serverURL string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Format, "console") {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("node", serverURL).Logger()
	log.Logger = logger
	return logger
}
