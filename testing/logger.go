package testing

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/arloliu/quizflow/types"
)

// NewTestLogger returns a types.Logger that writes "LEVEL msg key=value ..."
// lines to t's output. Services log from hook and sweeper goroutines, so lines
// arriving after t has been cleaned up are dropped instead of panicking.
func NewTestLogger(t testing.TB) types.Logger {
	l := &tbLogger{tb: t}
	t.Cleanup(func() { l.done.Store(true) })

	return l
}

type tbLogger struct {
	tb   testing.TB
	done atomic.Bool
}

var _ types.Logger = (*tbLogger)(nil)

func (l *tbLogger) Debug(msg string, kv ...any) { l.log("DEBUG", msg, kv) }
func (l *tbLogger) Info(msg string, kv ...any)  { l.log("INFO", msg, kv) }
func (l *tbLogger) Warn(msg string, kv ...any)  { l.log("WARN", msg, kv) }
func (l *tbLogger) Error(msg string, kv ...any) { l.log("ERROR", msg, kv) }

// Fatal fails the test; it must be called from the test goroutine.
func (l *tbLogger) Fatal(msg string, kv ...any) {
	l.tb.Helper()
	l.tb.Fatal(line("FATAL", msg, kv))
}

func (l *tbLogger) log(level, msg string, kv []any) {
	if l.done.Load() {
		return
	}
	l.tb.Helper()
	l.tb.Log(line(level, msg, kv))
}

func line(level, msg string, kv []any) string {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if i+1 == len(kv) {
			fmt.Fprintf(&b, " %v=<missing>", kv[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}

	return b.String()
}
