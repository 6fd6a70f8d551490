package flow_test

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/proconnect/backend"
	"github.com/c360studio/proconnect/config"
	"github.com/c360studio/proconnect/events"
	"github.com/c360studio/proconnect/flow"
	"github.com/c360studio/proconnect/gateway"
	"github.com/c360studio/proconnect/metrics"
	"github.com/c360studio/proconnect/mockbackend"
	"github.com/c360studio/proconnect/otp"
	"github.com/c360studio/proconnect/registration"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	srv       *mockbackend.Server
	client    *backend.Client
	sched     *otp.ManualScheduler
	recorder  *events.Recorder
	metrics   *metrics.Metrics
	navigated atomic.Int32
	flow      *flow.Registration
	form      *registration.CustomerForm
}

func newHarness(t *testing.T, opts mockbackend.Options) *harness {
	t.Helper()
	if opts.Mailer == nil {
		opts.Mailer = &mockbackend.MemoryMailer{}
	}
	h := &harness{
		srv:      mockbackend.New(opts),
		sched:    otp.NewManualScheduler(),
		recorder: &events.Recorder{},
		metrics:  metrics.New(false),
		form:     registration.NewCustomerForm(),
	}
	ts := httptest.NewServer(h.srv.Handler())
	t.Cleanup(ts.Close)

	cfg := config.DefaultConfig().API
	cfg.BaseURL = ts.URL + "/api"
	h.client = backend.NewClient(cfg, backend.WithObserver(h.metrics))

	gw := gateway.New(h.client, gateway.WithObserver(h.metrics))
	h.flow = flow.New(h.form, gw, h.client,
		flow.WithPublisher(h.recorder),
		flow.WithOTPObserver(h.metrics),
		flow.WithNavigator(func() { h.navigated.Add(1) }),
		flow.WithSessionOptions(otp.WithScheduler(h.sched)),
	)
	t.Cleanup(h.flow.Close)
	return h
}

func (h *harness) fillAnish() {
	h.form.SetFullName("Anish Sharma")
	h.form.SetEmail("anish@example.com")
	h.form.SetPhone("9800000000")
	h.form.SetPassword("Abcdef1!")
	h.form.SetConfirmPassword("Abcdef1!")
}

func TestCustomerEndToEnd(t *testing.T) {
	h := newHarness(t, mockbackend.Options{FixedOTP: "482913"})
	ctx := context.Background()
	h.fillAnish()

	out, err := h.flow.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, gateway.OutcomeOTPSent, out.Kind)
	assert.Equal(t, flow.PhaseVerifying, h.flow.Phase())

	sess := h.flow.Session()
	require.NotNil(t, sess)
	snap := sess.Snapshot()
	assert.Equal(t, 300, snap.Remaining)
	assert.Equal(t, gateway.MsgOTPSent, snap.Notice)

	for i, d := range "482913" {
		require.True(t, sess.Input(i, string(d)))
	}
	require.NoError(t, h.flow.Verify(ctx))

	verifies := h.srv.Requests("verify_otp")
	require.Len(t, verifies, 1)
	assert.Equal(t, map[string]string{"Email": "anish@example.com", "OTP": "482913"}, verifies[0].Fields)
	assert.Equal(t, otp.MsgVerified, sess.Snapshot().Notice)

	h.sched.Advance(1999 * time.Millisecond)
	assert.Equal(t, int32(0), h.navigated.Load())
	h.sched.Advance(time.Millisecond)
	assert.Equal(t, int32(1), h.navigated.Load())
	h.sched.Advance(time.Minute)
	assert.Equal(t, int32(1), h.navigated.Load(), "navigation happens exactly once")

	assert.Equal(t, flow.PhaseDone, h.flow.Phase())
	assert.Nil(t, h.flow.Session())
	assert.Empty(t, h.form.Draft().Email, "the form resets after verification")

	acct, ok := h.srv.Account("customer", "anish@example.com")
	require.True(t, ok)
	assert.True(t, acct.Verified)

	assert.Equal(t, []string{
		events.RegistrationSubmitted,
		events.RegistrationOTPOpened,
		events.OTPVerified,
	}, h.recorder.Types())
	for _, e := range h.recorder.Events() {
		assert.NotContains(t, e.Email, "anish@", "emails are masked in events")
	}
}

func TestConfirmMismatchNeverCallsBackend(t *testing.T) {
	h := newHarness(t, mockbackend.Options{})
	h.fillAnish()
	h.form.SetConfirmPassword("Abcdef1?")

	_, err := h.flow.Submit(context.Background())
	require.ErrorIs(t, err, registration.ErrInvalid)
	assert.Equal(t, "Passwords do not match", registration.FieldErrors(err)[registration.FieldConfirmPassword])
	assert.Empty(t, h.srv.Requests("register"))
	assert.Equal(t, flow.PhaseEditing, h.flow.Phase())
}

func TestBackOutKeepsDraft(t *testing.T) {
	h := newHarness(t, mockbackend.Options{})
	ctx := context.Background()
	h.fillAnish()
	before := h.form.Draft()

	_, err := h.flow.Submit(ctx)
	require.NoError(t, err)
	sess := h.flow.Session()
	require.NotNil(t, sess)

	_, err = h.flow.Submit(ctx)
	assert.ErrorIs(t, err, flow.ErrVerificationActive)

	h.flow.BackOut(ctx)
	assert.Equal(t, flow.PhaseEditing, h.flow.Phase())
	assert.Nil(t, h.flow.Session())
	assert.Equal(t, otp.StateClosed, sess.State())
	assert.Equal(t, 0, h.sched.Pending(), "back-out cancels the countdown")
	assert.Equal(t, before, h.form.Draft())

	assert.ErrorIs(t, h.flow.Verify(ctx), flow.ErrNoSession)
	assert.Contains(t, h.recorder.Types(), events.OTPClosed)
}

func TestRejectedSubmissionReflectsIntoForm(t *testing.T) {
	h := newHarness(t, mockbackend.Options{})
	ctx := context.Background()
	h.fillAnish()
	_, err := h.flow.Submit(ctx)
	require.NoError(t, err)
	h.flow.BackOut(ctx)

	// Registering the same email again is refused by the backend
	out, err := h.flow.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, gateway.OutcomeRejected, out.Kind)
	assert.Equal(t, gateway.MsgAlreadyExists, h.form.FormError())
	assert.Equal(t, flow.PhaseEditing, h.flow.Phase())
	assert.Equal(t, out, h.flow.LastOutcome())
}

func TestDeliveryFailureOpensVerification(t *testing.T) {
	h := newHarness(t, mockbackend.Options{EmailFailure: true, ResendInterval: -1})
	ctx := context.Background()
	h.fillAnish()

	out, err := h.flow.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, gateway.OutcomeDeliveryFailed, out.Kind)
	require.Equal(t, flow.PhaseVerifying, h.flow.Phase())
	assert.Equal(t, gateway.MsgDeliveryFailed, h.flow.Session().Snapshot().Notice)

	assert.ErrorIs(t, h.flow.Resend(ctx), otp.ErrResendLocked)
	h.sched.Advance(60 * time.Second)
	require.NoError(t, h.flow.Resend(ctx))
	assert.Len(t, h.srv.Requests("resend_otp"), 1)
	assert.Equal(t, 300, h.flow.Session().Remaining())
}

func TestSoftSuccess400OpensVerification(t *testing.T) {
	h := newHarness(t, mockbackend.Options{Return400OnSuccess: true})
	h.fillAnish()

	out, err := h.flow.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gateway.OutcomeOTPSent, out.Kind)
	assert.Equal(t, gateway.MsgOTPSentSoft, out.Message)
	assert.Equal(t, flow.PhaseVerifying, h.flow.Phase())
}

func TestWrongCodeStaysInVerification(t *testing.T) {
	h := newHarness(t, mockbackend.Options{FixedOTP: "482913"})
	ctx := context.Background()
	h.fillAnish()
	_, err := h.flow.Submit(ctx)
	require.NoError(t, err)

	sess := h.flow.Session()
	require.True(t, sess.Paste("111111"))
	require.Error(t, h.flow.Verify(ctx))

	snap := sess.Snapshot()
	assert.Equal(t, "Invalid or expired OTP", snap.Error)
	assert.Equal(t, "", snap.Code())
	assert.Equal(t, flow.PhaseVerifying, h.flow.Phase())
	assert.Equal(t, int32(0), h.navigated.Load())
}

func TestFlowPhaseString(t *testing.T) {
	assert.Equal(t, "editing", flow.PhaseEditing.String())
	assert.Equal(t, "verifying", flow.PhaseVerifying.String())
	assert.Equal(t, "done", flow.PhaseDone.String())
}
