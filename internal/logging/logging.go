// Package logging sets up the single logrus logger shared by the core
// engine and its collaborators. The stdout [Status]/Statistics: report
// bypasses this logger entirely. Per-query verbose lines ("> ..." on
// send, "< ..." on a matched reply) do not: they are logged through
// this logger at info level, so they go to its output (stderr in
// cmd/dnsperf), not to stdout.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger. verbose selects a human-readable text formatter
// (matching -v's intent of readable per-run diagnostics); otherwise a
// JSON formatter is used so the run's warnings can be piped to a log
// collector without a separate parser.
func New(verbose bool, out io.Writer) *logrus.Logger {
	log := logrus.New()
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)
	if verbose {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}
