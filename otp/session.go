// Package otp runs the six-digit email verification step that follows a
// registration: digit entry, the expiry countdown, resend lockout and the
// delayed hand-off to login.
package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/proconnect/auth"
	"github.com/c360studio/proconnect/backend"
	"github.com/c360studio/proconnect/registration"
)

// CodeLength is the number of digits in a code.
const CodeLength = 6

// Defaults used when no timing is configured.
const (
	DefaultCountdown     = 300 * time.Second
	DefaultResendLock    = 60 * time.Second
	DefaultRedirectDelay = 2 * time.Second
)

// User-facing messages.
const (
	MsgIncomplete    = "Please enter all 6 digits of the OTP."
	MsgExpired       = "OTP has expired. Please resend."
	MsgVerified      = "Email verified successfully! Redirecting to login..."
	MsgInvalidCode   = "Invalid OTP. Please try again."
	MsgVerifyFailed  = "Verification failed. Please try again."
	MsgVerifyNetwork = "Unable to verify OTP. Please check your connection."
	MsgResent        = "New OTP sent to your email."
	MsgResendFailed  = "Failed to resend OTP. Please try again."
)

var (
	ErrExpired         = errors.New("otp: code has expired")
	ErrIncomplete      = errors.New("otp: all six digits are required")
	ErrResendLocked    = errors.New("otp: resend is not available yet")
	ErrCallInFlight    = errors.New("otp: a verify or resend call is already in flight")
	ErrSessionClosed   = errors.New("otp: session is closed")
	ErrAlreadyVerified = errors.New("otp: code already verified")
)

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

// State is the lifecycle position of a Session.
type State int

const (
	StateCollecting State = iota
	StateExpired
	StateVerifying
	StateVerified
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateExpired:
		return "expired"
	case StateVerifying:
		return "verifying"
	case StateVerified:
		return "verified"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// API is the backend surface a session needs.
type API interface {
	VerifyOTP(ctx context.Context, v registration.Variant, email, code string) (*backend.Response, error)
	ResendOTP(ctx context.Context, v registration.Variant, email string) (*backend.Response, error)
}

// Session is one OTP entry dialog. It is safe for concurrent use: the countdown
// fires on the scheduler's goroutine while the user types on another.
type Session struct {
	api      API
	variant  registration.Variant
	email    string
	sched    Scheduler
	navigate func()
	logger   *slog.Logger

	countdown     int
	resendLock    int
	redirectDelay time.Duration

	mu        sync.Mutex
	slots     [CodeLength]string
	focus     int
	remaining int
	state     State
	notice    string
	errMsg    string
	busy      bool
	active    bool
	ticker    Timer
	redirect  Timer
	navigated bool
}

// Option configures a Session.
type Option func(*Session)

// WithScheduler replaces the real clock.
func WithScheduler(s Scheduler) Option {
	return func(sess *Session) { sess.sched = s }
}

// WithNavigator sets the callback run once, RedirectDelay after a successful verify.
func WithNavigator(fn func()) Option {
	return func(sess *Session) { sess.navigate = fn }
}

// WithTiming overrides the countdown, resend lock and redirect delay.
// Durations are truncated to whole seconds except the redirect delay.
func WithTiming(countdown, resendLock, redirectDelay time.Duration) Option {
	return func(sess *Session) {
		if countdown >= time.Second {
			sess.countdown = int(countdown / time.Second)
		}
		if resendLock >= 0 {
			sess.resendLock = int(resendLock / time.Second)
		}
		if redirectDelay >= 0 {
			sess.redirectDelay = redirectDelay
		}
	}
}

// WithNotice sets the initial success message, e.g. the registration outcome.
func WithNotice(msg string) Option {
	return func(sess *Session) { sess.notice = msg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(sess *Session) { sess.logger = logger }
}

// NewSession opens a session for email and starts the countdown.
func NewSession(api API, v registration.Variant, email string, opts ...Option) *Session {
	s := &Session{
		api:           api,
		variant:       v,
		email:         email,
		sched:         RealScheduler{},
		logger:        slog.Default(),
		countdown:     int(DefaultCountdown / time.Second),
		resendLock:    int(DefaultResendLock / time.Second),
		redirectDelay: DefaultRedirectDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resendLock > s.countdown {
		s.resendLock = s.countdown
	}
	s.logger = s.logger.With("variant", v, "email", auth.MaskEmail(email))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining = s.countdown
	s.state = StateCollecting
	s.active = true
	s.ticker = s.sched.Every(time.Second, s.tick)
	return s
}

// Email is the address the code was sent to.
func (s *Session) Email() string { return s.email }

// Variant is the registration flow the session belongs to.
func (s *Session) Variant() registration.Variant { return s.variant }

// tick is the countdown callback.
func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining == 0 {
		s.stopTicker()
		if s.state == StateCollecting {
			s.state = StateExpired
		}
	}
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

// idleState is the state to return to after a call completes without verifying.
func (s *Session) idleState() State {
	if s.remaining == 0 {
		return StateExpired
	}
	return StateCollecting
}

func (s *Session) editable() bool {
	return s.active && (s.state == StateCollecting || s.state == StateExpired)
}

// Input handles a keystroke in slot i. An empty value clears the slot; a single
// digit fills it and moves focus to the next slot. Anything else is ignored.
// It reports whether the slots changed.
func (s *Session) Input(i int, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editable() || i < 0 || i >= CodeLength {
		return false
	}
	switch {
	case value == "":
		s.slots[i] = ""
		s.focus = i
	case len(value) == 1 && value[0] >= '0' && value[0] <= '9':
		s.slots[i] = value
		if i < CodeLength-1 {
			s.focus = i + 1
		} else {
			s.focus = i
		}
	default:
		return false
	}
	return true
}

// Backspace clears a filled slot i, or moves focus back from an empty one.
// The previous slot's digit is left alone.
func (s *Session) Backspace(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editable() || i < 0 || i >= CodeLength {
		return
	}
	if s.slots[i] != "" {
		s.slots[i] = ""
		s.focus = i
		return
	}
	if i > 0 {
		s.focus = i - 1
	}
}

// Paste fills all slots when text is exactly six digits and reports whether it did.
func (s *Session) Paste(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editable() || !sixDigits.MatchString(text) {
		return false
	}
	for i := range s.slots {
		s.slots[i] = text[i : i+1]
	}
	s.focus = CodeLength - 1
	return true
}

// Verify submits the entered code. On success the navigator is scheduled once.
func (s *Session) Verify(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case !s.active:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.busy:
		s.mu.Unlock()
		return ErrCallInFlight
	case s.state == StateVerified:
		s.mu.Unlock()
		return ErrAlreadyVerified
	}
	if s.remaining == 0 {
		s.errMsg = MsgExpired
		s.mu.Unlock()
		return ErrExpired
	}
	code := strings.Join(s.slots[:], "")
	if len(code) != CodeLength {
		s.errMsg = MsgIncomplete
		s.mu.Unlock()
		return ErrIncomplete
	}
	s.busy = true
	s.state = StateVerifying
	s.errMsg = ""
	s.mu.Unlock()

	resp, err := s.api.VerifyOTP(ctx, s.variant, s.email, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if !s.active {
		s.logger.Debug("Discarding verify result for closed session")
		return ErrSessionClosed
	}

	if err == nil {
		s.state = StateVerified
		s.notice = MsgVerified
		s.stopTicker()
		s.redirect = s.sched.After(s.redirectDelay, s.fireRedirect)
		s.logger.Info("OTP verified")
		return nil
	}

	s.errMsg = VerifyFailureMessage(resp, err)
	s.slots = [CodeLength]string{}
	s.focus = 0
	s.state = s.idleState()
	s.logger.Warn("OTP verification failed", "error", err)
	return fmt.Errorf("verify otp: %w", err)
}

// VerifyFailureMessage maps a failed verify call to the message shown to the
// user. A 400 or 404 is a wrong code and prefers the backend's own wording.
func VerifyFailureMessage(resp *backend.Response, err error) string {
	switch {
	case backend.IsStatus(err, 400, 404):
		if resp != nil && resp.Message != "" {
			return resp.Message
		}
		return MsgInvalidCode
	case backend.IsStatus(err):
		return MsgVerifyFailed
	default:
		return MsgVerifyNetwork
	}
}

func (s *Session) fireRedirect() {
	s.mu.Lock()
	if !s.active || s.navigated {
		s.mu.Unlock()
		return
	}
	s.navigated = true
	s.redirect = nil
	nav := s.navigate
	s.mu.Unlock()

	if nav != nil {
		nav()
	}
}

// CanResend reports whether the resend lock has elapsed.
func (s *Session) CanResend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canResend()
}

func (s *Session) canResend() bool {
	return s.remaining <= s.countdown-s.resendLock
}

// Resend requests a new code. On success the countdown restarts and the slots clear.
func (s *Session) Resend(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case !s.active:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.busy:
		s.mu.Unlock()
		return ErrCallInFlight
	case s.state == StateVerified:
		s.mu.Unlock()
		return ErrAlreadyVerified
	case !s.canResend():
		s.mu.Unlock()
		return ErrResendLocked
	}
	s.busy = true
	s.notice = ""
	s.errMsg = ""
	s.mu.Unlock()

	_, err := s.api.ResendOTP(ctx, s.variant, s.email)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if !s.active {
		s.logger.Debug("Discarding resend result for closed session")
		return ErrSessionClosed
	}

	if err != nil {
		s.errMsg = MsgResendFailed
		s.logger.Warn("OTP resend failed", "error", err)
		return fmt.Errorf("resend otp: %w", err)
	}

	s.remaining = s.countdown
	s.slots = [CodeLength]string{}
	s.focus = 0
	s.notice = MsgResent
	s.state = StateCollecting
	if s.ticker == nil {
		s.ticker = s.sched.Every(time.Second, s.tick)
	}
	s.logger.Info("OTP resent")
	return nil
}

// Close ends the session, cancelling the countdown and any pending redirect.
// Results of calls still in flight are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.state = StateClosed
	s.stopTicker()
	if s.redirect != nil {
		s.redirect.Stop()
		s.redirect = nil
	}
}

// Snapshot is a consistent view of the session for rendering.
type Snapshot struct {
	State     State
	Slots     [CodeLength]string
	Focus     int
	Remaining int
	CanResend bool
	Busy      bool
	Notice    string
	Error     string
}

// Countdown formats Remaining as m:ss.
func (s Snapshot) Countdown() string { return FormatCountdown(s.Remaining) }

// Code joins the filled slots.
func (s Snapshot) Code() string { return strings.Join(s.Slots[:], "") }

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.state,
		Slots:     s.slots,
		Focus:     s.focus,
		Remaining: s.remaining,
		CanResend: s.canResend(),
		Busy:      s.busy,
		Notice:    s.notice,
		Error:     s.errMsg,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remaining returns the seconds left on the countdown.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// FormatCountdown renders seconds as m:ss.
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
