// Package observability provides structured logging, tracing, and metrics
// for the feed service: a JSON/text Logger correlated with OpenTelemetry
// spans, a Jaeger-exporting TracerProvider, and a Prometheus-exporting
// MeterProvider.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// LogLevel is the severity of a log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// severity orders LogLevel for threshold comparisons. It is a method
// rather than a package-level map so an unrecognized level has one place
// to decide its fallback (unknownSeverity), instead of a second "exists"
// check at every call site.
const unknownSeverity = -1

func (lv LogLevel) severity() int {
	switch lv {
	case LogLevelDebug:
		return 0
	case LogLevelInfo:
		return 1
	case LogLevelWarn:
		return 2
	case LogLevelError:
		return 3
	default:
		return unknownSeverity
	}
}

// LogEntry is a structured log record, trace- and request-correlated when
// a span or an HTTPMiddleware-issued request id is present on ctx.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Service   string                 `json:"service"`
	RequestID string                 `json:"requestId,omitempty"`
	TraceID   string                 `json:"traceId,omitempty"`
	SpanID    string                 `json:"spanId,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Logger is a structured, level-filtered, OTel-trace-correlated logger.
// Every entry it writes is rendered through render before reaching sink,
// so WithSink can redirect a copy of the same Logger to a buffer in tests
// without touching the level/format decision.
type Logger struct {
	serviceName string
	logLevel    LogLevel
	format      string
	sink        io.Writer
}

// NewLogger constructs a Logger writing to sink. format is "json" or
// "text"; a nil sink defaults to os.Stdout.
func NewLogger(serviceName string, level LogLevel, format string, sink io.Writer) *Logger {
	if sink == nil {
		sink = os.Stdout
	}
	return &Logger{serviceName: serviceName, logLevel: level, format: format, sink: sink}
}

// WithSink returns a copy of the Logger writing to w instead, leaving the
// level and format untouched. Used by tests that want to assert on
// rendered output without capturing process-wide stdout.
func (l *Logger) WithSink(w io.Writer) *Logger {
	clone := *l
	clone.sink = w
	return &clone
}

func (l *Logger) Debug(ctx context.Context, message string, fields ...map[string]interface{}) {
	if l.shouldLog(LogLevelDebug) {
		l.log(ctx, LogLevelDebug, message, nil, fields...)
	}
}

func (l *Logger) Info(ctx context.Context, message string, fields ...map[string]interface{}) {
	if l.shouldLog(LogLevelInfo) {
		l.log(ctx, LogLevelInfo, message, nil, fields...)
	}
}

func (l *Logger) Warn(ctx context.Context, message string, fields ...map[string]interface{}) {
	if l.shouldLog(LogLevelWarn) {
		l.log(ctx, LogLevelWarn, message, nil, fields...)
	}
}

func (l *Logger) Error(ctx context.Context, message string, err error, fields ...map[string]interface{}) {
	if l.shouldLog(LogLevelError) {
		l.log(ctx, LogLevelError, message, err, fields...)
	}
}

// shouldLog reports whether level clears the logger's configured
// threshold. An unrecognized configured level falls back to info; an
// unrecognized level argument is always suppressed, since it cannot be
// a real call site of Debug/Info/Warn/Error.
func (l *Logger) shouldLog(level LogLevel) bool {
	threshold := l.logLevel.severity()
	if threshold == unknownSeverity {
		threshold = LogLevelInfo.severity()
	}
	return level.severity() >= threshold
}

// log assembles the entry — timestamp, trace/request correlation, error,
// and merged fields — then hands it to output.
func (l *Logger) log(ctx context.Context, level LogLevel, message string, err error, fields ...map[string]interface{}) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Service:   l.serviceName,
		Fields:    mergeFieldMaps(fields),
	}
	entry.RequestID, _ = RequestIDFromContext(ctx)
	entry.TraceID, entry.SpanID = spanCorrelation(ctx)
	if err != nil {
		entry.Error = err.Error()
	}
	l.output(entry)
}

// spanCorrelation extracts the active span's trace/span ids from ctx, or
// two empty strings if no valid span is attached.
func spanCorrelation(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// mergeFieldMaps flattens the variadic field maps passed to Debug/Info/
// Warn/Error into one map, later maps overwriting earlier keys. A zero-
// length input yields a nil map so LogEntry.Fields stays absent in JSON
// output rather than rendering as "{}".
func mergeFieldMaps(maps []map[string]interface{}) map[string]interface{} {
	if len(maps) == 0 {
		return nil
	}
	merged := make(map[string]interface{})
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// output renders entry per l.format and writes the result to l.sink.
func (l *Logger) output(entry LogEntry) {
	line, ok := l.render(entry)
	if !ok {
		return
	}
	fmt.Fprintln(l.sink, line)
}

// render produces the one-line representation of entry for the logger's
// configured format. It returns false when JSON marshaling fails, in
// which case the caller writes nothing and a diagnostic goes to the
// standard library logger instead of the configured sink.
func (l *Logger) render(entry LogEntry) (string, bool) {
	if l.format != "json" {
		return fmt.Sprintf("[%s] %s %s: %s", entry.Timestamp, entry.Level, entry.Service, entry.Message), true
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("observability: failed to marshal log entry: %v", err)
		return "", false
	}
	return string(data), true
}

// WithFields returns a FieldLogger carrying a fixed set of fields onto
// every subsequent call.
func (l *Logger) WithFields(fields map[string]interface{}) *FieldLogger {
	return &FieldLogger{logger: l, fields: fields}
}

// FieldLogger is a Logger with pre-set fields.
type FieldLogger struct {
	logger *Logger
	fields map[string]interface{}
}

func (fl *FieldLogger) Debug(ctx context.Context, message string) { fl.logger.Debug(ctx, message, fl.fields) }
func (fl *FieldLogger) Info(ctx context.Context, message string)  { fl.logger.Info(ctx, message, fl.fields) }
func (fl *FieldLogger) Warn(ctx context.Context, message string)  { fl.logger.Warn(ctx, message, fl.fields) }
func (fl *FieldLogger) Error(ctx context.Context, message string, err error) {
	fl.logger.Error(ctx, message, err, fl.fields)
}
