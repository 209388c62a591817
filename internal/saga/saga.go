// Package saga runs a sequence of compensable steps. When a step fails, the
// compensations of every step that already succeeded run in reverse order.
package saga

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

// Step is a forward action with its undo. Compensate may be nil for steps
// that need no undo, typically the last one.
type Step struct {
	Name       string
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// CompensationError is returned when a step failed and at least one
// compensation failed too. The system may be inconsistent and needs an
// operator; it is always classified as unexpected.
type CompensationError struct {
	Saga     string
	Step     string
	Cause    error
	Failures error
}

func (e *CompensationError) Error() string {
	return "saga " + e.Saga + ": step " + e.Step + " failed and compensation failed: " +
		e.Failures.Error()
}

// Unwrap exposes the failed step error.
func (e *CompensationError) Unwrap() error { return e.Cause }

// ErrorKind implements apperr.Kinded. It shadows the kind of Cause.
func (e *CompensationError) ErrorKind() apperr.Kind { return apperr.KindUnexpected }

// Saga is a named, ordered list of steps.
type Saga struct {
	name   string
	steps  []Step
	tracer trace.Tracer
}

// Option configures a Saga.
type Option func(*Saga)

// WithTracer records a span per step.
func WithTracer(t trace.Tracer) Option {
	return func(s *Saga) { s.tracer = t }
}

// New returns an empty saga.
func New(name string, opts ...Option) *Saga {
	s := &Saga{name: name, tracer: noop.NewTracerProvider().Tracer("saga")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add appends steps.
func (s *Saga) Add(steps ...Step) *Saga {
	s.steps = append(s.steps, steps...)
	return s
}

// Run executes the steps in order. On the first failure it compensates and
// returns the step error, or a *CompensationError if undoing failed too.
//
// Compensations run on a context detached from ctx cancellation so that a
// client disconnect cannot abandon a half-done saga.
func (s *Saga) Run(ctx context.Context) error {
	lg := zctx.From(ctx).With(zap.String("saga", s.name))

	done := make([]Step, 0, len(s.steps))
	for _, step := range s.steps {
		if err := s.do(ctx, step); err != nil {
			lg.Debug("Step failed, compensating",
				zap.String("step", step.Name),
				zap.Int("completed", len(done)),
				zap.Error(err),
			)
			if cerr := s.compensate(context.WithoutCancel(ctx), lg, done); cerr != nil {
				lg.Error("Compensation failed",
					zap.String("step", step.Name),
					zap.NamedError("cause", err),
					zap.Error(cerr),
				)
				return &CompensationError{Saga: s.name, Step: step.Name, Cause: err, Failures: cerr}
			}
			return err
		}
		done = append(done, step)
	}
	return nil
}

func (s *Saga) do(ctx context.Context, step Step) error {
	ctx, span := s.tracer.Start(ctx, s.name+"."+step.Name)
	defer span.End()

	if err := step.Do(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, lg *zap.Logger, done []Step) error {
	var errs error
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		ctx, span := s.tracer.Start(ctx, s.name+"."+step.Name+".compensate",
			trace.WithAttributes(attribute.Bool("saga.compensation", true)))
		if err := step.Compensate(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			errs = multierr.Append(errs, errors.Wrapf(err, "compensate %s", step.Name))
		}
		span.End()
	}
	if errs == nil {
		lg.Debug("Compensated", zap.Int("steps", len(done)))
	}
	return errs
}
