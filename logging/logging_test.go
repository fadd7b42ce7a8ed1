package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestConsoleAppenderLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewBlankLogger("stereo", NewWriterAppender(&buf))
	logger.SetLevel(WARN)
	test.That(t, logger.GetLevel(), test.ShouldEqual, WARN)

	logger.Info("dropped")
	logger.Warnw("kept", "pairs", 4)
	logger.Errorf("also %s", "kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, lines, test.ShouldHaveLength, 2)
	test.That(t, lines[0], test.ShouldContainSubstring, "WARN")
	test.That(t, lines[0], test.ShouldContainSubstring, "logging_test.go")
	test.That(t, lines[0], test.ShouldContainSubstring, `"pairs": 4`)
	test.That(t, lines[1], test.ShouldContainSubstring, "also kept")
}

func TestSublogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewBlankLogger("stereo", NewWriterAppender(&buf))
	sub := logger.Sublogger("calibration")

	var late bytes.Buffer
	logger.AddAppender(NewWriterAppender(&late))
	sub.Info("hello")
	test.That(t, buf.String(), test.ShouldContainSubstring, "stereo.calibration")
	test.That(t, late.String(), test.ShouldContainSubstring, "hello")

	sub.SetLevel(ERROR)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
}

func TestObservedLoggerFields(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	pairLogger := logger.WithFields("run", "abc")
	pairLogger.Infow("detected", "accepted", 4, "rejected")
	logger.Debugf("frame %d", 1)

	entries := observed.All()
	test.That(t, entries, test.ShouldHaveLength, 2)
	fields := entries[0].ContextMap()
	test.That(t, fields["run"], test.ShouldEqual, "abc")
	test.That(t, fields["accepted"], test.ShouldEqual, int64(4))
	test.That(t, fields["rejected"], test.ShouldEqual, "!MISSING VALUE")
	test.That(t, observed.FilterMessage("frame 1").Len(), test.ShouldEqual, 1)
	test.That(t, entries[1].ContextMap(), test.ShouldBeEmpty)
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "stereo.log")
	logger := NewBlankLogger("stereo", NewFileAppender(path, 1, 1))
	logger.Warn("to file")
	test.That(t, logger.Sync(), test.ShouldBeNil)

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "to file")
}
