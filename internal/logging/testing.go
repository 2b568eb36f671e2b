package logging

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

// NewTest returns a logger that writes through tb, so log output is
// attached to the failing test instead of polluting stdout.
func NewTest(tb testing.TB) Logger {
	return zaptest.NewLogger(tb).Sugar()
}
