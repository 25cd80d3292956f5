package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/observability"
	"github.com/platinummonkey/timeguard/pkg/store"
)

const tracerName = "github.com/platinummonkey/timeguard/pkg/engine"

// Service is the authorization and audit engine. Every mutation it performs
// runs in one store transaction together with its audit entry.
type Service struct {
	store     store.Store
	scope     *authz.ScopeResolver
	recorder  *audit.Recorder
	publisher audit.Publisher
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() uuid.UUID
}

// Option configures the Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithPublisher forwards committed audit entries after each commit
func WithPublisher(p audit.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithClock overrides the time source for row and audit timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides id generation for inserted rows
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// WithTracerProvider sets the tracer provider; the global one is used otherwise
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// New creates a Service over st
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		scope:     authz.NewScopeResolver(st),
		publisher: audit.NopPublisher{},
		logger:    observability.NewLogger(observability.InfoLevel, io.Discard),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		newID:     uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recorder = audit.NewRecorder(audit.WithClock(s.now))
	return s
}

// Scope returns the department scope resolver backed by the service's store
func (s *Service) Scope() *authz.ScopeResolver {
	return s.scope
}

// timestamp returns the current time at the precision the stores keep
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) startSpan(ctx context.Context, name string, actor authz.Actor, rt authz.ResourceType, action authz.Action) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("timeguard.actor_id", actor.ID.String()),
		attribute.String("timeguard.actor_role", string(actor.Role)),
		attribute.String("timeguard.resource_type", string(rt)),
		attribute.String("timeguard.action", string(action)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(authz.KindOf(err)))
	}
	span.End()
}

// observeDecision logs and counts a policy decision
func (s *Service) observeDecision(actor authz.Actor, rt authz.ResourceType, d authz.Decision) {
	outcome := "allow"
	if !d.Allowed {
		outcome = "deny"
	}
	if s.metrics != nil {
		s.metrics.DecisionsTotal.WithLabelValues(string(rt), string(d.Action), outcome, string(d.Reason)).Inc()
	}
	s.logger.WithFields(map[string]interface{}{
		"actor_id":      actor.ID.String(),
		"actor_role":    string(actor.Role),
		"action":        string(d.Action),
		"resource_type": string(rt),
		"outcome":       outcome,
		"reason":        string(d.Reason),
	}).Debug("authorization decision")
}

// decide evaluates and observes a decision
func (s *Service) decide(actor authz.Actor, action authz.Action, rt authz.ResourceType, res *authz.Resource) authz.Decision {
	d := authz.Evaluate(actor, action, rt, res)
	s.observeDecision(actor, rt, d)
	return d
}

// translate maps store and audit failures onto the authz taxonomy
func (s *Service) translate(err error) error {
	if err == nil {
		return nil
	}

	var authzErr *authz.Error
	switch {
	case errors.As(err, &authzErr):
		return err
	case errors.Is(err, audit.ErrWriteFailed):
		if s.metrics != nil {
			s.metrics.AuditWriteFailures.Inc()
		}
		return authz.NewError(authz.KindAuditWriteFailed, authz.ReasonNone, "", err)
	case errors.Is(err, store.ErrNotFound):
		return authz.NewError(authz.KindNotFound, authz.ReasonNone, "", err)
	case errors.Is(err, store.ErrForeignKey):
		return authz.NewError(authz.KindConstraintViolation, authz.ReasonReferenced, "", err)
	case errors.Is(err, store.ErrUnique):
		return authz.NewError(authz.KindConstraintViolation, authz.ReasonDuplicate, "", err)
	case errors.Is(err, store.ErrUnknownTable):
		return authz.NewError(authz.KindInvalid, authz.ReasonUnknownResource, "unknown resource type", err)
	}
	return fmt.Errorf("storage failure: %w", err)
}

// committed runs the post-commit side effects of a mutation
func (s *Service) committed(ctx context.Context, actor authz.Actor, entry *audit.Entry) {
	if entry == nil {
		return
	}

	if s.metrics != nil {
		s.metrics.AuditEntriesTotal.WithLabelValues(entry.TableName, string(entry.Action)).Inc()
	}
	observability.UpdateLoggerWithTraceContext(ctx, s.logger).WithFields(map[string]interface{}{
		"actor_id":       actor.ID.String(),
		"table":          entry.TableName,
		"record_id":      entry.RecordID.String(),
		"audit_action":   string(entry.Action),
		"audit_entry_id": entry.ID.String(),
	}).Info("mutation committed")

	status := "ok"
	if err := s.publisher.Publish(ctx, *entry); err != nil {
		status = "error"
		s.logger.WithError(err).WithField("audit_entry_id", entry.ID.String()).Warn("failed to publish audit entry")
	}
	if s.metrics != nil {
		s.metrics.AuditPublishTotal.WithLabelValues(status).Inc()
	}
}

// label names a resource type in caller-facing messages
func label(rt authz.ResourceType) string {
	switch rt {
	case authz.ResourceTimeEntries:
		return "time entry"
	case authz.ResourceClients:
		return "client"
	case authz.ResourceProjects:
		return "project"
	case authz.ResourceJobs:
		return "job"
	case authz.ResourceServices:
		return "service"
	case authz.ResourceTasks:
		return "task"
	case authz.ResourceDepartments:
		return "department"
	case authz.ResourceUsers:
		return "user"
	}
	return string(rt)
}
