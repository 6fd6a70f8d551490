// Package flow drives one registration from draft to verified email: it
// submits the form through the gateway, opens the OTP session when the backend
// sent a code, and hands control to the navigator once the code is verified.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360studio/proconnect/auth"
	"github.com/c360studio/proconnect/events"
	"github.com/c360studio/proconnect/gateway"
	"github.com/c360studio/proconnect/metrics"
	"github.com/c360studio/proconnect/otp"
	"github.com/c360studio/proconnect/registration"
)

var (
	// ErrVerificationActive rejects a submit while an OTP session is open.
	ErrVerificationActive = errors.New("flow: email verification is in progress")
	// ErrNoSession is returned by OTP actions when no session is open.
	ErrNoSession = errors.New("flow: no verification session is open")
)

// Phase is which half of the flow is shown.
type Phase int

const (
	PhaseEditing Phase = iota
	PhaseVerifying
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseEditing:
		return "editing"
	case PhaseVerifying:
		return "verifying"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Submitter is the gateway surface the flow uses.
type Submitter interface {
	Submit(ctx context.Context, d registration.Draft) (gateway.Outcome, error)
}

// OTPObserver counts OTP session results.
type OTPObserver interface {
	ObserveOTP(variant, outcome string)
}

// Registration is one form session. The draft stays in the form while the OTP
// session is open, so BackOut returns to it unchanged.
type Registration struct {
	form      registration.Form
	submitter Submitter
	api       otp.API
	publisher events.Publisher
	observer  OTPObserver
	navigate  func()
	logger    *slog.Logger
	otpOpts   []otp.Option

	mu      sync.Mutex
	phase   Phase
	session *otp.Session
	last    gateway.Outcome
}

// Option configures a Registration.
type Option func(*Registration)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registration) { r.logger = logger }
}

// WithPublisher publishes lifecycle events.
func WithPublisher(p events.Publisher) Option {
	return func(r *Registration) { r.publisher = p }
}

// WithOTPObserver records OTP results, e.g. into metrics.
func WithOTPObserver(o OTPObserver) Option {
	return func(r *Registration) { r.observer = o }
}

// WithNavigator sets the callback that leaves the flow for login.
func WithNavigator(fn func()) Option {
	return func(r *Registration) { r.navigate = fn }
}

// WithSessionOptions passes options to every OTP session the flow opens.
func WithSessionOptions(opts ...otp.Option) Option {
	return func(r *Registration) { r.otpOpts = append(r.otpOpts, opts...) }
}

// New creates a flow around form.
func New(form registration.Form, s Submitter, api otp.API, opts ...Option) *Registration {
	r := &Registration{
		form:      form,
		submitter: s,
		api:       api,
		publisher: events.Nop{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Form returns the form being edited.
func (r *Registration) Form() registration.Form { return r.form }

// Phase returns the current phase.
func (r *Registration) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Session returns the open OTP session, or nil.
func (r *Registration) Session() *otp.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// LastOutcome returns the outcome of the most recent submission.
func (r *Registration) LastOutcome() gateway.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Submit validates the form and sends it. Client-side validation failures are
// returned as errors and leave the backend untouched. Every backend answer,
// including failures, comes back as an Outcome and is reflected into the form.
func (r *Registration) Submit(ctx context.Context) (gateway.Outcome, error) {
	r.mu.Lock()
	if r.phase != PhaseEditing {
		r.mu.Unlock()
		return gateway.Outcome{}, ErrVerificationActive
	}
	r.mu.Unlock()

	draft, err := r.form.Submit()
	if err != nil {
		return gateway.Outcome{}, err
	}

	out, err := r.submitter.Submit(ctx, draft)
	if err != nil {
		return gateway.Outcome{}, err
	}

	variant := string(draft.Variant)
	email := draft.SubmitEmail()
	r.publish(ctx, events.New(events.RegistrationSubmitted, variant, auth.MaskEmail(email), out.Kind.String()))

	r.mu.Lock()
	r.last = out
	r.mu.Unlock()

	switch {
	case out.OpensVerification():
		r.open(ctx, draft.Variant, email, out.Message)
	case out.Kind == gateway.OutcomeRejected:
		r.form.Reject(out.FieldErrors, out.Message)
	case out.Kind == gateway.OutcomeFailed:
		r.form.Reject(nil, out.Message)
	case out.Kind == gateway.OutcomeAuthenticated:
		r.logger.Info("Registration returned a session token", "variant", variant)
	}
	return out, nil
}

func (r *Registration) open(ctx context.Context, v registration.Variant, email, notice string) {
	opts := append([]otp.Option{
		otp.WithLogger(r.logger),
		otp.WithNotice(notice),
	}, r.otpOpts...)
	opts = append(opts, otp.WithNavigator(r.finish))
	sess := otp.NewSession(r.api, v, email, opts...)

	r.mu.Lock()
	r.session = sess
	r.phase = PhaseVerifying
	r.mu.Unlock()

	r.logger.Info("Opened email verification", "variant", v, "email", auth.MaskEmail(email))
	r.publish(ctx, events.New(events.RegistrationOTPOpened, string(v), auth.MaskEmail(email), ""))
}

func (r *Registration) current() (*otp.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil, ErrNoSession
	}
	return r.session, nil
}

// Verify submits the entered code.
func (r *Registration) Verify(ctx context.Context) error {
	sess, err := r.current()
	if err != nil {
		return err
	}
	err = sess.Verify(ctx)
	switch {
	case err == nil:
		r.observe(sess, metrics.OTPVerified)
		r.publish(ctx, events.New(events.OTPVerified, string(sess.Variant()), auth.MaskEmail(sess.Email()), ""))
	case errors.Is(err, otp.ErrSessionClosed), errors.Is(err, otp.ErrCallInFlight), errors.Is(err, otp.ErrAlreadyVerified):
	default:
		r.observe(sess, metrics.OTPRejected)
	}
	return err
}

// Resend requests a new code.
func (r *Registration) Resend(ctx context.Context) error {
	sess, err := r.current()
	if err != nil {
		return err
	}
	err = sess.Resend(ctx)
	switch {
	case err == nil:
		r.observe(sess, metrics.OTPResent)
		r.publish(ctx, events.New(events.OTPResent, string(sess.Variant()), auth.MaskEmail(sess.Email()), ""))
	case errors.Is(err, otp.ErrResendLocked), errors.Is(err, otp.ErrSessionClosed),
		errors.Is(err, otp.ErrCallInFlight), errors.Is(err, otp.ErrAlreadyVerified):
	default:
		r.observe(sess, metrics.OTPResendFailed)
	}
	return err
}

// BackOut discards the OTP session and returns to the untouched draft. Results
// of calls still in flight are ignored.
func (r *Registration) BackOut(ctx context.Context) {
	r.mu.Lock()
	sess := r.session
	if sess == nil || r.phase != PhaseVerifying {
		r.mu.Unlock()
		return
	}
	r.session = nil
	r.phase = PhaseEditing
	r.mu.Unlock()

	sess.Close()
	r.observe(sess, metrics.OTPClosed)
	r.publish(ctx, events.New(events.OTPClosed, string(sess.Variant()), auth.MaskEmail(sess.Email()), ""))
	r.logger.Info("Left email verification", "variant", sess.Variant())
}

// Close tears the flow down, cancelling any session timers.
func (r *Registration) Close() {
	r.mu.Lock()
	sess := r.session
	r.session = nil
	r.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// finish runs once, after the redirect delay that follows a verified code.
func (r *Registration) finish() {
	r.mu.Lock()
	sess := r.session
	r.session = nil
	r.phase = PhaseDone
	nav := r.navigate
	r.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	r.form.Reset()
	if nav != nil {
		nav()
	}
}

func (r *Registration) observe(sess *otp.Session, outcome string) {
	if r.observer != nil {
		r.observer.ObserveOTP(string(sess.Variant()), outcome)
	}
}

func (r *Registration) publish(ctx context.Context, e events.Event) {
	if err := r.publisher.Publish(ctx, e); err != nil {
		r.logger.Warn("Failed to publish event", "type", e.Type, "error", err)
	}
}
