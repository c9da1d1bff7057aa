package model

import (
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiscardLoggerWorksAsIntended(t *testing.T) {
	logger := DiscardLogger
	logger.Debug("foo")
	logger.Debugf("%s", "foo")
	logger.Info("foo")
	logger.Infof("%s", "foo")
	logger.Warn("foo")
	logger.Warnf("%s", "foo")
}

func TestErrorToStringOrOK(t *testing.T) {
	t.Run("on success", func(t *testing.T) {
		expectedResult := ErrorToStringOrOK(nil)
		if expectedResult != "ok" {
			t.Fatal("expected ok")
		}
	})

	t.Run("on failure", func(t *testing.T) {
		err := io.EOF
		expectedResult := ErrorToStringOrOK(err)
		if expectedResult != err.Error() {
			t.Fatal("not the result we expected", expectedResult)
		}
	})
}

func TestValidLoggerOrDefault(t *testing.T) {
	if ValidLoggerOrDefault(nil) != DiscardLogger {
		t.Fatal("expected DiscardLogger")
	}
	rl := &recordingLogger{}
	if ValidLoggerOrDefault(rl) != rl {
		t.Fatal("expected the same logger")
	}
}

type recordingLogger struct {
	lines []string
}

func (rl *recordingLogger) Debug(msg string) { rl.lines = append(rl.lines, "D "+msg) }

func (rl *recordingLogger) Debugf(format string, v ...interface{}) {
	panic("should not be called")
}

func (rl *recordingLogger) Info(msg string) { rl.lines = append(rl.lines, "I "+msg) }

func (rl *recordingLogger) Infof(format string, v ...interface{}) {
	panic("should not be called")
}

func (rl *recordingLogger) Warn(msg string) { rl.lines = append(rl.lines, "W "+msg) }

func (rl *recordingLogger) Warnf(format string, v ...interface{}) {
	panic("should not be called")
}

func TestPrefixLogger(t *testing.T) {
	rl := &recordingLogger{}
	logger := NewPrefixLogger("abc", rl)
	logger.Debug("a")
	logger.Debugf("%d", 1)
	logger.Info("b")
	logger.Infof("%d", 2)
	logger.Warn("c")
	logger.Warnf("%d", 3)
	expect := []string{
		"D [abc] a",
		"D [abc] 1",
		"I [abc] b",
		"I [abc] 2",
		"W [abc] c",
		"W [abc] 3",
	}
	if diff := cmp.Diff(expect, rl.lines); diff != "" {
		t.Fatal(diff)
	}
}
