package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/c360studio/proconnect/auth"
	"github.com/c360studio/proconnect/backend"
	"github.com/c360studio/proconnect/registration"
)

// ErrSubmissionInFlight rejects a second submit while the first is still running.
var ErrSubmissionInFlight = errors.New("gateway: a submission is already in flight")

// Registrar sends an encoded registration payload.
type Registrar interface {
	Register(ctx context.Context, v registration.Variant, contentType string, body io.Reader) (*backend.Response, error)
}

// OutcomeObserver is told about every classified submission.
type OutcomeObserver interface {
	ObserveSubmission(variant string, kind string)
}

// Gateway submits registration drafts. Each Submit makes exactly one backend
// call; there is no retry and no idempotency key.
type Gateway struct {
	registrar Registrar
	builders  map[registration.Variant]PayloadBuilder
	observer  OutcomeObserver
	logger    *slog.Logger

	inFlight atomic.Bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithBuilder overrides the payload builder of a variant.
func WithBuilder(v registration.Variant, b PayloadBuilder) Option {
	return func(g *Gateway) {
		g.builders[v] = b
	}
}

// WithObserver records outcomes, e.g. into metrics.
func WithObserver(o OutcomeObserver) Option {
	return func(g *Gateway) {
		g.observer = o
	}
}

// New creates a Gateway sending through r.
func New(r Registrar, opts ...Option) *Gateway {
	g := &Gateway{
		registrar: r,
		builders:  make(map[registration.Variant]PayloadBuilder),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, v := range []registration.Variant{registration.VariantCustomer, registration.VariantProvider} {
		if _, ok := g.builders[v]; !ok {
			g.builders[v] = BuilderFor(v, g.logger)
		}
	}
	return g
}

// InFlight reports whether a submission is running.
func (g *Gateway) InFlight() bool { return g.inFlight.Load() }

// Submit encodes and sends d, then classifies the answer. The only error
// returned is ErrSubmissionInFlight; every other failure is an Outcome.
func (g *Gateway) Submit(ctx context.Context, d registration.Draft) (Outcome, error) {
	if !g.inFlight.CompareAndSwap(false, true) {
		return Outcome{}, ErrSubmissionInFlight
	}
	defer g.inFlight.Store(false)

	builder, ok := g.builders[d.Variant]
	if !ok {
		builder = BuilderFor(d.Variant, g.logger)
	}
	payload, err := builder.Build(d)
	if err != nil {
		g.logger.Error("Failed to build registration payload", "variant", d.Variant, "error", err)
		out := Outcome{Kind: OutcomeFailed, Message: MsgUnexpected, Err: err}
		g.observe(d.Variant, out)
		return out, nil
	}

	g.logger.Info("Submitting registration",
		"variant", d.Variant,
		"email", auth.MaskEmail(d.SubmitEmail()),
		"bytes", len(payload.Body))

	resp, err := g.registrar.Register(ctx, d.Variant, payload.ContentType, payload.Reader())
	out := Classify(resp, err)

	if out.Kind == OutcomeFailed {
		g.logger.Warn("Registration failed",
			"variant", d.Variant,
			"status", out.StatusCode,
			"message", out.Message,
			"error", out.Err)
	} else {
		g.logger.Info("Registration answered",
			"variant", d.Variant,
			"outcome", out.Kind.String(),
			"status", out.StatusCode)
	}
	g.observe(d.Variant, out)
	return out, nil
}

func (g *Gateway) observe(v registration.Variant, out Outcome) {
	if g.observer != nil {
		g.observer.ObserveSubmission(string(v), out.Kind.String())
	}
}
