package logging

import (
	"io"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Appender receives every entry a logger emits. zapcore.Core satisfies it, which is how the
// test observer is plugged in.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// ConsoleAppender writes tab separated, human readable entries to a writer.
type ConsoleAppender struct {
	io.Writer
}

// NewStdoutAppender returns a ConsoleAppender on stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// NewWriterAppender returns a ConsoleAppender on w.
func NewWriterAppender(w io.Writer) ConsoleAppender {
	return ConsoleAppender{w}
}

// Write encodes the entry and writes it out.
func (a ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := zapcore.NewConsoleEncoder(NewEncoderConfig()).EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	_, err = a.Writer.Write(buf.Bytes())
	return err
}

// Sync does nothing; console output is unbuffered.
func (a ConsoleAppender) Sync() error {
	return nil
}

// FileAppender is a ConsoleAppender on a file rotated by size, used for --log-file.
type FileAppender struct {
	ConsoleAppender
	roller *lumberjack.Logger
}

// NewFileAppender writes to filename, rotating it every maxSizeMB and keeping maxBackups old
// files.
func NewFileAppender(filename string, maxSizeMB, maxBackups int) *FileAppender {
	roller := &lumberjack.Logger{Filename: filename, MaxSize: maxSizeMB, MaxBackups: maxBackups}
	return &FileAppender{ConsoleAppender: ConsoleAppender{roller}, roller: roller}
}

// Sync closes the current file. It is reopened on the next write.
func (a *FileAppender) Sync() error {
	return a.roller.Close()
}
