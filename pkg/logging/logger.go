package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

const (
	LogFieldsContextKey = contextKey("log_fields")

	ProjectDirectoryName = "snapvault"
	ModuleName           = "github.com/treeverse/snapvault"
)

// log_fields keys
const (
	// RepositoryFieldKey snapshot repository name (string)
	RepositoryFieldKey = "repository"
	// SnapshotFieldKey snapshot name (string)
	SnapshotFieldKey = "snapshot"
	// SnapshotIDFieldKey snapshot unique ID (string)
	SnapshotIDFieldKey = "snapshot_id"
	// IndexFieldKey index name (string)
	IndexFieldKey = "index"
	// IndexIDFieldKey index unique ID (string)
	IndexIDFieldKey = "index_id"
	// ShardFieldKey shard number (int)
	ShardFieldKey = "shard"
	// BlobFieldKey blob name within its container (string)
	BlobFieldKey = "blob"
	// GenerationFieldKey catalog generation (int64)
	GenerationFieldKey = "generation"
	// OperationIDFieldKey in-flight operation ID (string)
	OperationIDFieldKey = "operation_id"
	// BlockstoreTypeFieldKey backing blockstore type (string)
	BlockstoreTypeFieldKey = "blockstore_type"
)

var (
	formatterInitOnce sync.Once
	defaultLogger     = logrus.New()

	writersMu     sync.Mutex
	activeClosers []io.Closer
)

func Level() string {
	return defaultLogger.GetLevel().String()
}

type Fields map[string]interface{}

// logCallerTrimmer trims caller paths and function names to be relative to the
// project root. The project directory is matched case-insensitively so clones
// named snapvault-demo or SnapVault trim the same way.
func logCallerTrimmer(frame *runtime.Frame) (function string, file string) {
	file = frame.File
	if idx := strings.Index(strings.ToLower(file), ProjectDirectoryName); idx != -1 {
		trimmed := file[idx+len(ProjectDirectoryName):]
		if sep := strings.IndexByte(trimmed, os.PathSeparator); sep != -1 {
			file = trimmed[sep+1:]
		}
	}
	file = fmt.Sprintf("%s:%d", strings.TrimPrefix(file, string(os.PathSeparator)), frame.Line)
	function = frame.Function
	if idx := strings.Index(strings.ToLower(function), ProjectDirectoryName); idx != -1 {
		trimmed := function[idx+len(ProjectDirectoryName):]
		if sep := strings.IndexByte(trimmed, '/'); sep != -1 {
			function = trimmed[sep+1:]
		}
	}
	return function, file
}

func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "trace":
		defaultLogger.SetLevel(logrus.TraceLevel)
	case "debug":
		defaultLogger.SetLevel(logrus.DebugLevel)
	case "info":
		defaultLogger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		defaultLogger.SetLevel(logrus.WarnLevel)
	case "error":
		defaultLogger.SetLevel(logrus.ErrorLevel)
	case "panic":
		defaultLogger.SetLevel(logrus.PanicLevel)
	case "null", "none":
		defaultLogger.SetLevel(logrus.PanicLevel)
		defaultLogger.SetOutput(io.Discard)
	}
}

// SetOutputs routes log output to each of outputs: "-" for stdout, "=" for
// stderr, anything else is a rotated file path. Empty entries are skipped and
// an empty list leaves the current output unchanged.
func SetOutputs(outputs []string, fileMaxSizeMB, filesKeep int) error {
	var writers []io.Writer
	var closers []io.Closer
	for _, output := range outputs {
		var w io.Writer
		switch output {
		case "":
			continue
		case "-":
			w = os.Stdout
		case "=":
			w = os.Stderr
		default:
			rotated := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    fileMaxSizeMB,
				MaxBackups: filesKeep,
			}
			closers = append(closers, rotated)
			w = rotated
		}
		writers = append(writers, w)
	}
	if len(writers) == 1 {
		defaultLogger.SetOutput(writers[0])
	} else if len(writers) > 1 {
		defaultLogger.SetOutput(io.MultiWriter(writers...))
	}

	writersMu.Lock()
	defer writersMu.Unlock()
	activeClosers = closers
	return nil
}

// CloseWriters closes file writers installed by SetOutputs, flushing anything
// buffered. Stdout and stderr are never closed.
func CloseWriters() error {
	writersMu.Lock()
	defer writersMu.Unlock()
	var err error
	for _, c := range activeClosers {
		if closeErr := c.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	activeClosers = nil
	return err
}

func SetOutputFormat(format string) {
	var formatter logrus.Formatter
	switch strings.ToLower(format) {
	case "text":
		formatter = &logrus.TextFormatter{
			FullTimestamp:          true,
			DisableLevelTruncation: true,
			PadLevelText:           true,
			QuoteEmptyFields:       true,
			CallerPrettyfier:       logCallerTrimmer,
		}
	case "json":
		formatter = &logrus.JSONFormatter{
			CallerPrettyfier: logCallerTrimmer,
			PrettyPrint:      false,
		}
	default:
		return // no known formatter found
	}

	// wrap it with our caller formatter
	defaultLogger.SetFormatter(logrusCallerFormatter{formatter})
}

type Logger interface {
	WithContext(ctx context.Context) Logger
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	Trace(args ...interface{})
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Warning(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
	Panic(args ...interface{})
	Log(level logrus.Level, args ...interface{})
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Panicf(format string, args ...interface{})
	Logf(level logrus.Level, format string, args ...interface{})
	IsTracing() bool
	IsDebugging() bool
	IsInfo() bool
	IsError() bool
	IsWarn() bool
}

type logrusEntryWrapper struct {
	e *logrus.Entry
}

func (l *logrusEntryWrapper) WithContext(ctx context.Context) Logger {
	return addFromContext(
		&logrusEntryWrapper{l.e.WithContext(ctx)},
		ctx,
	)
}

func (l *logrusEntryWrapper) WithField(key string, value interface{}) Logger {
	return &logrusEntryWrapper{l.e.WithField(key, value)}
}

func (l *logrusEntryWrapper) WithFields(fields Fields) Logger {
	return &logrusEntryWrapper{l.e.WithFields(logrus.Fields(fields))}
}

func (l *logrusEntryWrapper) WithError(err error) Logger {
	return &logrusEntryWrapper{l.e.WithError(err)}
}

func (l logrusEntryWrapper) Trace(args ...interface{}) {
	l.e.Trace(args...)
}

func (l logrusEntryWrapper) Debug(args ...interface{}) {
	l.e.Debug(args...)
}

func (l logrusEntryWrapper) Info(args ...interface{}) {
	l.e.Info(args...)
}

func (l logrusEntryWrapper) Warn(args ...interface{}) {
	l.e.Warn(args...)
}

func (l logrusEntryWrapper) Warning(args ...interface{}) {
	l.e.Warning(args...)
}

func (l logrusEntryWrapper) Error(args ...interface{}) {
	l.e.Error(args...)
}

func (l logrusEntryWrapper) Fatal(args ...interface{}) {
	l.e.Fatal(args...)
}

func (l logrusEntryWrapper) Panic(args ...interface{}) {
	l.e.Panic(args...)
}

func (l logrusEntryWrapper) Log(level logrus.Level, args ...interface{}) {
	l.e.Log(level, args...)
}

func (l *logrusEntryWrapper) Tracef(format string, args ...interface{}) {
	l.e.Tracef(format, args...)
}

func (l *logrusEntryWrapper) Debugf(format string, args ...interface{}) {
	l.e.Debugf(format, args...)
}

func (l *logrusEntryWrapper) Infof(format string, args ...interface{}) {
	l.e.Infof(format, args...)
}

func (l *logrusEntryWrapper) Warnf(format string, args ...interface{}) {
	l.e.Warnf(format, args...)
}

func (l *logrusEntryWrapper) Warningf(format string, args ...interface{}) {
	l.e.Warningf(format, args...)
}

func (l *logrusEntryWrapper) Errorf(format string, args ...interface{}) {
	l.e.Errorf(format, args...)
}

func (l *logrusEntryWrapper) Fatalf(format string, args ...interface{}) {
	l.e.Fatalf(format, args...)
}

func (l *logrusEntryWrapper) Panicf(format string, args ...interface{}) {
	l.e.Panicf(format, args...)
}

func (l logrusEntryWrapper) Logf(level logrus.Level, format string, args ...interface{}) {
	l.e.Logf(level, format, args...)
}

func (*logrusEntryWrapper) IsTracing() bool {
	return defaultLogger.IsLevelEnabled(logrus.TraceLevel)
}

func (*logrusEntryWrapper) IsDebugging() bool {
	return defaultLogger.IsLevelEnabled(logrus.DebugLevel)
}

func (*logrusEntryWrapper) IsInfo() bool {
	return defaultLogger.IsLevelEnabled(logrus.InfoLevel)
}

func (*logrusEntryWrapper) IsError() bool {
	return defaultLogger.IsLevelEnabled(logrus.ErrorLevel)
}

func (*logrusEntryWrapper) IsWarn() bool {
	return defaultLogger.IsLevelEnabled(logrus.WarnLevel)
}

type logrusCallerFormatter struct {
	f logrus.Formatter
}

func (lf logrusCallerFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Caller = getCaller()
	return lf.f.Format(e)
}

func Default() Logger {
	// wrap formatter with our own formatter that overrides caller
	formatterInitOnce.Do(func() {
		defaultLogger.SetReportCaller(true)
		defaultLogger.SetNoLock()
		defaultLogger.Formatter = logrusCallerFormatter{defaultLogger.Formatter}
	})
	return &logrusEntryWrapper{
		e: logrus.NewEntry(defaultLogger),
	}
}

func addFromContext(log Logger, ctx context.Context) Logger {
	fields := GetFieldsFromContext(ctx)
	if fields == nil {
		return log
	}
	return log.WithFields(fields)
}

func FromContext(ctx context.Context) Logger {
	return addFromContext(Default(), ctx)
}

// GetFieldsFromContext returns the log fields attached to ctx by AddFields,
// or nil when there are none.
func GetFieldsFromContext(ctx context.Context) Fields {
	fields := ctx.Value(LogFieldsContextKey)
	if fields == nil {
		return nil
	}
	return fields.(Fields)
}

// AddFields returns a context whose logger (via FromContext or WithContext)
// carries fields in addition to anything already attached. The original
// context's fields are copied, never mutated.
func AddFields(ctx context.Context, fields Fields) context.Context {
	loggerFields := Fields{}
	for k, v := range GetFieldsFromContext(ctx) {
		loggerFields[k] = v
	}
	for k, v := range fields {
		loggerFields[k] = v
	}
	return context.WithValue(ctx, LogFieldsContextKey, loggerFields)
}
