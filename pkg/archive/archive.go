package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/observability"
	"github.com/platinummonkey/timeguard/pkg/store"
)

const tracerName = "github.com/platinummonkey/timeguard/pkg/archive"

// DefaultWindow is how far back the first run reaches when no cursor exists
const DefaultWindow = time.Hour

// Result describes one archive run
type Result struct {
	Key     string
	Entries int
	Start   time.Time
	End     time.Time
}

// Archiver copies audit entries to object storage in consecutive windows.
// Each run covers everything created after the previous run's end.
//
// Entries are stamped before their transaction commits, so a window closes
// lag behind the clock. lag must be at least the longest a transaction can
// stay open.
type Archiver struct {
	source  audit.Searcher
	putter  ObjectPutter
	prefix  string
	window  time.Duration
	lag     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	mu     sync.Mutex
	cursor time.Time
}

// Option configures the Archiver
type Option func(*Archiver)

// WithPrefix sets the object key prefix
func WithPrefix(prefix string) Option {
	return func(a *Archiver) {
		a.prefix = prefix
	}
}

// WithWindow sets the look-back of the first run
func WithWindow(window time.Duration) Option {
	return func(a *Archiver) {
		if window > 0 {
			a.window = window
		}
	}
}

// WithLag sets how far behind the clock each window ends
func WithLag(lag time.Duration) Option {
	return func(a *Archiver) {
		if lag >= 0 {
			a.lag = lag
		}
	}
}

func WithLogger(logger *observability.Logger) Option {
	return func(a *Archiver) {
		a.logger = logger
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(a *Archiver) {
		a.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		a.now = now
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Archiver) {
		a.tracer = tp.Tracer(tracerName)
	}
}

// New creates an Archiver reading from source and writing through putter
func New(source audit.Searcher, putter ObjectPutter, opts ...Option) *Archiver {
	a := &Archiver{
		source: source,
		putter: putter,
		window: DefaultWindow,
		lag:    store.DefaultTxTimeout,
		logger: observability.NewLogger(observability.InfoLevel, io.Discard),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Cursor returns the end of the last successful window
func (a *Archiver) Cursor() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor
}

// Run archives the entries created since the last successful run. An empty
// window writes nothing but still advances the cursor. On failure the cursor
// stays put so the next run retries the same entries.
func (a *Archiver) Run(ctx context.Context) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	end := a.now().UTC().Add(-a.lag).Truncate(time.Microsecond)
	start := end.Add(-a.window)
	if !a.cursor.IsZero() {
		if !end.After(a.cursor) {
			return &Result{Start: a.cursor, End: a.cursor}, nil
		}
		start = a.cursor.Add(time.Microsecond)
	}

	ctx, span := a.tracer.Start(ctx, "Archiver.Run", trace.WithAttributes(
		attribute.String("archive.start", start.Format(time.RFC3339Nano)),
		attribute.String("archive.end", end.Format(time.RFC3339Nano)),
	))
	defer span.End()

	res, err := a.run(ctx, start, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "archive failed")
		a.observe("error", 0, end)
		a.logger.WithError(err).
			WithField("start", start).
			WithField("end", end).
			Error("Audit archive run failed")
		return nil, err
	}

	a.cursor = end
	if res.Entries == 0 {
		a.observe("empty", 0, end)
		a.logger.WithField("end", end).Debug("No audit entries to archive")
		return res, nil
	}

	span.SetAttributes(attribute.Int("archive.entries", res.Entries))
	a.observe("ok", res.Entries, end)
	a.logger.WithFields(map[string]interface{}{
		"key":     res.Key,
		"entries": res.Entries,
	}).Info("Archived audit entries")
	return res, nil
}

func (a *Archiver) run(ctx context.Context, start, end time.Time) (*Result, error) {
	entries, err := a.source.SearchAudit(ctx, audit.SearchFilter{
		StartTime: &start,
		EndTime:   &end,
		SortOrder: "asc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}

	res := &Result{Start: start, End: end, Entries: len(entries)}
	if len(entries) == 0 {
		return res, nil
	}

	var buf bytes.Buffer
	if err := audit.WriteNDJSON(&buf, entries); err != nil {
		return nil, fmt.Errorf("failed to encode audit entries: %w", err)
	}

	res.Key = a.objectKey(start, end)
	if err := a.putter.PutObject(ctx, res.Key, buf.Bytes(), audit.ExportFormatNDJSON.ContentType()); err != nil {
		return nil, err
	}
	return res, nil
}

// objectKey lays objects out by the day their window ends
func (a *Archiver) objectKey(start, end time.Time) string {
	const stamp = "20060102T150405.000000Z"
	return fmt.Sprintf("%s%s/audit-%s-%s.ndjson",
		a.prefix, end.Format("2006/01/02"), start.Format(stamp), end.Format(stamp))
}

func (a *Archiver) observe(status string, entries int, end time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.AuditArchiveRunsTotal.WithLabelValues(status).Inc()
	if status == "error" {
		return
	}
	a.metrics.AuditArchivedEntries.Add(float64(entries))
	a.metrics.AuditArchiveLastSuccess.Set(float64(end.Unix()))
}

// Job adapts Run to a cron job. Errors are logged by Run itself.
func (a *Archiver) Job(ctx context.Context) func() {
	return func() {
		defer observability.RecoverPanic(a.logger, "audit archive")
		_, _ = a.Run(ctx)
	}
}
