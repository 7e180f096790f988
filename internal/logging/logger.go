// Package logging constructs the server's zerolog logger. Every log
// record is written to stderr, never stdout: the MCP stdio transport
// (spec §1) owns stdout for JSON-RPC framing, so anything else written
// there would corrupt the protocol stream.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's verbosity and rendering.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Pretty enables a human-readable console writer; false emits
	// newline-delimited JSON, suited to log aggregation.
	Pretty bool
}

// DefaultConfig returns the logger used when no flag overrides it.
func DefaultConfig() Config {
	return Config{Level: "info", Pretty: false}
}

// New builds a zerolog.Logger per cfg, always writing to os.Stderr.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05", NoColor: false}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
