// logger.go - Structured logging for the registry daemon
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a structured logger writing to the console and,
// when logFile is set, to a file as well.
func NewLogger(level string, logFile string) (zerolog.Logger, io.Closer, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	var closer io.Closer
	writer := io.Writer(console)
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closer = file
		writer = zerolog.MultiLevelWriter(console, file)
	}

	logger := zerolog.New(writer).Level(lvl).With().Timestamp().Str("service", "registryd").Logger()
	return logger, closer, nil
}
