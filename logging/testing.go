package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the time format used by test log lines.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// testCore is a zapcore.Core that routes log lines through `tb.Log`. This associates each line
// with the test that produced it, which matters for tests calling `t.Parallel()`.
type testCore struct {
	tb     testing.TB
	fields []zapcore.Field
}

func newTestCore(tb testing.TB) zapcore.Core {
	return &testCore{tb: tb}
}

func (tc *testCore) Enabled(zapcore.Level) bool {
	return true
}

func (tc *testCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(tc.fields)+len(fields))
	merged = append(merged, tc.fields...)
	merged = append(merged, fields...)
	return &testCore{tb: tc.tb, fields: merged}
}

func (tc *testCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return checked.AddCore(entry, tc)
}

// Write outputs the log entry to the underlying test object `Log` method.
func (tc *testCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tc.tb.Helper()
	const maxLength = 10
	toPrint := make([]string, 0, maxLength)
	toPrint = append(toPrint, entry.Time.Format(DefaultTimeFormatStr))

	toPrint = append(toPrint, strings.ToUpper(entry.Level.String()))
	toPrint = append(toPrint, entry.LoggerName)
	if entry.Caller.Defined {
		toPrint = append(toPrint, entry.Caller.TrimmedPath())
	}
	toPrint = append(toPrint, entry.Message)

	all := append(append([]zapcore.Field{}, tc.fields...), fields...)
	if len(all) == 0 {
		tc.tb.Log(strings.Join(toPrint, "\t"))
		return nil
	}

	// Use zap's json encoder which will encode our slice of fields in-order. Call it with an
	// empty Entry object such that only the fields become "map-ified".
	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, all)
	if err != nil {
		tc.tb.Log(strings.Join(toPrint, "\t"))
		return err
	}
	toPrint = append(toPrint, buf.String())
	buf.Free()
	tc.tb.Log(strings.Join(toPrint, "\t"))
	return nil
}

// Sync is a no-op.
func (tc *testCore) Sync() error {
	return nil
}
