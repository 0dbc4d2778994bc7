// Package logging wires zerolog the way the rest of the stack expects:
// console+file multi-writer at startup, request-scoped child loggers
// downstream.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures the process-wide logger.
type Options struct {
	LogFilePath string
	Debug       bool
}

// Init sets the global zerolog logger to a console+file multi-writer and
// returns a closer for the opened log file. Call once at process startup.
func Init(opts Options) (io.Closer, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if opts.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	path := opts.LogFilePath
	if path == "" {
		path = "relayd.log"
	}
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	multi := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
		logFile,
	)
	log.Logger = log.Output(multi)
	return logFile, nil
}

// Request returns a child logger carrying request-scoped identifying
// fields (request id, account id, proxy).
func Request(requestID, accountID, proxy string) zerolog.Logger {
	return log.With().
		Str("request_id", requestID).
		Str("account_id", accountID).
		Str("proxy", proxy).
		Logger()
}
