package observability

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Config bundles the knobs needed to stand up Logger, TracingProvider, and
// MetricsProvider together.
type Config struct {
	ServiceName    string
	ServiceVersion string
	LogLevel       LogLevel
	LogFormat      string
	// LogSink is "stdout" or "stderr"; anything else falls back to
	// os.Stdout rather than failing provider construction, since
	// internal/config already rejects bad values before this is reached.
	LogSink        string
	JaegerEndpoint string
	MetricsEnabled bool
}

// resolveSink maps the configured sink name to the writer the Logger
// actually writes to.
func resolveSink(name string) io.Writer {
	switch name {
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// Provider owns the feed service's Logger, TracerProvider, and
// MetricsProvider for the lifetime of the process.
type Provider struct {
	Logger  *Logger
	Tracing *TracingProvider
	Metrics *MetricsProvider
}

// New constructs a Provider. Tracing is only started if cfg.JaegerEndpoint
// is non-empty; metrics are only started if cfg.MetricsEnabled.
func New(cfg Config) (*Provider, error) {
	p := &Provider{Logger: NewLogger(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat, resolveSink(cfg.LogSink))}

	if cfg.JaegerEndpoint != "" {
		tracing, err := NewTracingProvider(TracingConfig{
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.ServiceVersion,
			JaegerEndpoint: cfg.JaegerEndpoint,
		})
		if err != nil {
			return nil, err
		}
		p.Tracing = tracing
	}

	metrics, err := NewMetricsProvider(MetricsConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Namespace:      "orderingest",
		Enabled:        cfg.MetricsEnabled,
	})
	if err != nil {
		return nil, err
	}
	p.Metrics = metrics

	return p, nil
}

// Shutdown stops the tracing provider; the metrics provider is left running.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.Tracing != nil {
		return p.Tracing.Shutdown(ctx)
	}
	return nil
}

// HTTPMiddleware logs and records metrics for every request, attaching a
// request id if one was not already set by the caller.
func (p *Provider) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		wrapped := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		p.Logger.Info(ctx, "http request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"statusCode": wrapped.statusCode,
			"durationMs": duration.Milliseconds(),
			"requestId":  requestID,
		})
		if p.Metrics != nil {
			p.Metrics.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, duration.Seconds())
		}
	})
}

type requestIDKey struct{}

// RequestIDFromContext returns the request id attached by HTTPMiddleware.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey{}).(string)
	return v, ok
}

type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36) + strconv.Itoa(rand.Intn(1000))
}
