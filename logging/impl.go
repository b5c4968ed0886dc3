package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	impl struct {
		name  string
		level AtomicLevel
		inUTC bool

		appenders []Appender
	}

	// LogEntry embeds a zapcore Entry and slice of Fields.
	LogEntry struct {
		zapcore.Entry
		fields []zapcore.Field
	}
)

// NewLogEntry stamps a new entry with the time, the logger name and the caller of the public log
// method.
func (imp *impl) NewLogEntry(logLevel Level, msg string) *LogEntry {
	entry := &LogEntry{}
	entry.Time = time.Now()
	entry.LoggerName = imp.name
	entry.Level = logLevel.AsZap()
	entry.Message = msg
	entry.Caller = getCaller()
	return entry
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) Desugar() *zap.Logger {
	return imp.AsZap().Desugar()
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Level() zapcore.Level {
	return imp.GetLevel().AsZap()
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}

	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Named(name string) *zap.SugaredLogger {
	return imp.AsZap().Named(name)
}

func (imp *impl) Sync() error {
	var errs []error
	for _, appender := range imp.appenders {
		if err := appender.Sync(); err != nil {
			errs = append(errs, err)
		}
	}

	return multierr.Combine(errs...)
}

func (imp *impl) With(args ...interface{}) *zap.SugaredLogger {
	return imp.AsZap().With(args...)
}

func (imp *impl) WithOptions(opts ...zap.Option) *zap.SugaredLogger {
	return imp.AsZap().WithOptions(opts...)
}

func (imp *impl) AsZap() *zap.SugaredLogger {
	// When downconverting to a SugaredLogger, copy those that implement the `zapcore.Core`
	// interface. This includes the observed logs for tests.
	var copiedCores []zapcore.Core
	for _, appender := range imp.appenders {
		if core, ok := appender.(zapcore.Core); ok {
			copiedCores = append(copiedCores, core)
		}
	}

	config := NewZapLoggerConfig()
	// Use the global zap `AtomicLevel` such that the constructed zap logger can observe changes to
	// the debug flag.
	config.Level = GlobalLogLevel
	ret := zap.Must(config.Build()).Sugar().Named(imp.name)
	for _, core := range copiedCores {
		ret = ret.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, core)
		}))
	}

	return ret
}

func (imp *impl) shouldLog(logLevel Level) bool {
	if GlobalLogLevel.Level() == zapcore.DebugLevel {
		return true
	}

	return logLevel >= imp.level.Get()
}

func (imp *impl) write(entry *LogEntry) {
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}

	for _, appender := range imp.appenders {
		if err := appender.Write(entry.Entry, entry.fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

// The emit helpers are called directly by every public log method so that getCaller always sits
// at the same stack depth. traced is set for calls made with a debug-mode context.

func (imp *impl) emit(logLevel Level, traced bool, args ...interface{}) {
	if traced || imp.shouldLog(logLevel) {
		imp.write(imp.NewLogEntry(logLevel, fmt.Sprint(args...)))
	}
}

func (imp *impl) emitf(logLevel Level, traced bool, template string, args ...interface{}) {
	if traced || imp.shouldLog(logLevel) {
		imp.write(imp.NewLogEntry(logLevel, fmt.Sprintf(template, args...)))
	}
}

// emitw turns keysAndValues into zap fields: even elements are keys, each followed by its value.
func (imp *impl) emitw(logLevel Level, traced bool, msg string, keysAndValues ...interface{}) {
	if !traced && !imp.shouldLog(logLevel) {
		return
	}
	entry := imp.NewLogEntry(logLevel, msg)
	entry.fields = make([]zapcore.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			// Keep the dangling key visible rather than dropping it.
			entry.fields = append(entry.fields, zap.Any(key, errors.New("unpaired log key")))
			break
		}
		entry.fields = append(entry.fields, zap.Any(key, keysAndValues[i+1]))
	}
	imp.write(entry)
}

func (imp *impl) Debug(args ...interface{}) { imp.emit(DEBUG, false, args...) }

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.emitf(DEBUG, false, template, args...)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.emitw(DEBUG, false, msg, keysAndValues...)
}

func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.emitw(DEBUG, IsDebugMode(ctx), msg, keysAndValues...)
}

func (imp *impl) Info(args ...interface{}) { imp.emit(INFO, false, args...) }

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.emitf(INFO, false, template, args...)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.emitw(INFO, false, msg, keysAndValues...)
}

func (imp *impl) CInfow(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.emitw(INFO, IsDebugMode(ctx), msg, keysAndValues...)
}

func (imp *impl) Warn(args ...interface{}) { imp.emit(WARN, false, args...) }

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.emitf(WARN, false, template, args...)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.emitw(WARN, false, msg, keysAndValues...)
}

func (imp *impl) CWarnw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.emitw(WARN, IsDebugMode(ctx), msg, keysAndValues...)
}

func (imp *impl) Error(args ...interface{}) { imp.emit(ERROR, false, args...) }

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.emitf(ERROR, false, template, args...)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.emitw(ERROR, false, msg, keysAndValues...)
}

// Fatal, Fatalf and Fatalw log at error level and exit.
func (imp *impl) Fatal(args ...interface{}) {
	imp.emit(ERROR, true, args...)
	os.Exit(1)
}

func (imp *impl) Fatalf(template string, args ...interface{}) {
	imp.emitf(ERROR, true, template, args...)
	os.Exit(1)
}

func (imp *impl) Fatalw(msg string, keysAndValues ...interface{}) {
	imp.emitw(ERROR, true, msg, keysAndValues...)
	os.Exit(1)
}

// getCaller reports the code that called the public log method, e.g. "control/servo.go:312".
func getCaller() zapcore.EntryCaller {
	const skipToLogCaller = 4
	pc, file, line, ok := runtime.Caller(skipToLogCaller)
	caller := zapcore.EntryCaller{PC: pc, File: file, Line: line, Defined: ok}
	if fn := runtime.FuncForPC(pc); ok && fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
