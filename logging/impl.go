package logging

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger handed to every stage of the pipeline.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a logger named "<name>.<subname>" writing to the same appenders.
	Sublogger(subname string) Logger
	// WithFields returns a logger that adds the given key/value pairs to every entry.
	WithFields(keysAndValues ...interface{}) Logger
	AddAppender(appender Appender)
	SetLevel(level Level)
	GetLevel() Level
	Sync() error
}

// appenderSet is shared by a logger and all of its subloggers.
type appenderSet struct {
	mu   sync.RWMutex
	list []Appender
}

func (s *appenderSet) add(a Appender) {
	s.mu.Lock()
	s.list = append(s.list, a)
	s.mu.Unlock()
}

func (s *appenderSet) snapshot() []Appender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list
}

type impl struct {
	name      string
	level     zap.AtomicLevel
	inUTC     bool
	fields    []zapcore.Field
	appenders *appenderSet
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{
		name:      name,
		level:     zap.NewAtomicLevelAt(level.AsZap()),
		inUTC:     inUTC,
		appenders: &appenderSet{list: appenders},
	}
}

func (l *impl) AddAppender(appender Appender) {
	l.appenders.add(appender)
}

func (l *impl) SetLevel(level Level) {
	l.level.SetLevel(level.AsZap())
}

func (l *impl) GetLevel() Level {
	return levelFromZap(l.level.Level())
}

func (l *impl) Sublogger(subname string) Logger {
	name := subname
	if l.name != "" {
		name = l.name + "." + subname
	}
	return &impl{
		name:      name,
		level:     zap.NewAtomicLevelAt(l.level.Level()),
		inUTC:     l.inUTC,
		fields:    l.fields,
		appenders: l.appenders,
	}
}

func (l *impl) WithFields(keysAndValues ...interface{}) Logger {
	fields := make([]zapcore.Field, 0, len(l.fields)+len(keysAndValues)/2)
	fields = append(fields, l.fields...)
	fields = append(fields, toFields(keysAndValues)...)
	return &impl{
		name:      l.name,
		level:     l.level,
		inUTC:     l.inUTC,
		fields:    fields,
		appenders: l.appenders,
	}
}

func (l *impl) Sync() error {
	var err error
	for _, appender := range l.appenders.snapshot() {
		err = multierr.Combine(err, appender.Sync())
	}
	return err
}

// toFields pairs up alternating keys and values. A trailing key without a value is kept with an
// error as its value.
func toFields(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.String(key, "!MISSING VALUE"))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

// callerSkip is the number of frames between write and the code calling the Logger.
const callerSkip = 3

func (l *impl) write(level Level, msg string, fields []zapcore.Field) {
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: l.name,
		Message:    msg,
		Caller:     zapcore.NewEntryCaller(runtime.Caller(callerSkip)),
	}
	if l.inUTC {
		entry.Time = entry.Time.UTC()
	}
	if len(l.fields) > 0 {
		fields = append(append(make([]zapcore.Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	}
	for _, appender := range l.appenders.snapshot() {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func (l *impl) log(level Level, args []interface{}) {
	if l.level.Enabled(level.AsZap()) {
		l.write(level, fmt.Sprint(args...), nil)
	}
}

func (l *impl) logf(level Level, template string, args []interface{}) {
	if l.level.Enabled(level.AsZap()) {
		l.write(level, fmt.Sprintf(template, args...), nil)
	}
}

func (l *impl) logw(level Level, msg string, keysAndValues []interface{}) {
	if l.level.Enabled(level.AsZap()) {
		l.write(level, msg, toFields(keysAndValues))
	}
}

func (l *impl) Debug(args ...interface{})                   { l.log(DEBUG, args) }
func (l *impl) Debugf(template string, args ...interface{}) { l.logf(DEBUG, template, args) }
func (l *impl) Debugw(msg string, kv ...interface{})        { l.logw(DEBUG, msg, kv) }

func (l *impl) Info(args ...interface{})                   { l.log(INFO, args) }
func (l *impl) Infof(template string, args ...interface{}) { l.logf(INFO, template, args) }
func (l *impl) Infow(msg string, kv ...interface{})        { l.logw(INFO, msg, kv) }

func (l *impl) Warn(args ...interface{})                   { l.log(WARN, args) }
func (l *impl) Warnf(template string, args ...interface{}) { l.logf(WARN, template, args) }
func (l *impl) Warnw(msg string, kv ...interface{})        { l.logw(WARN, msg, kv) }

func (l *impl) Error(args ...interface{})                   { l.log(ERROR, args) }
func (l *impl) Errorf(template string, args ...interface{}) { l.logf(ERROR, template, args) }
func (l *impl) Errorw(msg string, kv ...interface{})        { l.logw(ERROR, msg, kv) }
