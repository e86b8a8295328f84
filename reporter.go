package ephemeral

import (
	"io"
	"log/slog"
	"testing"

	"github.com/pressly/ephemeral/internal/lifecycle"
)

// Reporter records the outcome of a run and the diagnostics produced while it is in progress.
// Diagnostic may be called from goroutines other than the caller's; Skip and Reraise are only
// called from the goroutine that called Run.
type Reporter = lifecycle.Reporter

// TB returns a Reporter for a test: Skip calls t.Skip, Diagnostic calls t.Log and Reraise calls
// t.Fatal.
func TB(t testing.TB) Reporter {
	return tbReporter{t: t}
}

type tbReporter struct {
	t testing.TB
}

func (r tbReporter) Skip(reason string) {
	r.t.Helper()
	r.t.Skip(reason)
}

func (r tbReporter) Diagnostic(message string) {
	r.t.Log(message)
}

func (r tbReporter) Reraise(err error) {
	r.t.Helper()
	r.t.Fatal(err)
}

// NewLogReporter returns a Reporter that writes everything to logger.
func NewLogReporter(logger *slog.Logger) Reporter {
	if logger == nil {
		logger = discardLogger()
	}
	return logReporter{logger: logger.With(slog.String("logger", "ephemeral"))}
}

type logReporter struct {
	logger *slog.Logger
}

func (r logReporter) Skip(reason string) {
	r.logger.Warn("test service run skipped", slog.String("reason", reason))
}

func (r logReporter) Diagnostic(message string) {
	r.logger.Debug("test service diagnostic", slog.String("message", message))
}

func (r logReporter) Reraise(err error) {
	r.logger.Error("test body failed", slog.Any("error", err))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
