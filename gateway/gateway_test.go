package gateway_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/proconnect/backend"
	"github.com/c360studio/proconnect/gateway"
	"github.com/c360studio/proconnect/registration"
)

func statusErr(status int, body map[string]any) (*backend.Response, error) {
	resp := &backend.Response{StatusCode: status, Body: body}
	for _, k := range []string{"msg", "error", "message"} {
		if s, _ := body[k].(string); s != "" {
			resp.Message = s
			break
		}
	}
	return resp, &backend.StatusError{Call: "register", Response: resp}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    map[string]any
		kind    gateway.OutcomeKind
		message string
		fields  map[registration.Field]string
	}{
		{
			name: "400 otp sent is a soft success", status: 400,
			body: map[string]any{"msg": "OTP sent to email"},
			kind: gateway.OutcomeOTPSent, message: gateway.MsgOTPSentSoft,
		},
		{
			name: "500 registered successfully", status: 500,
			body: map[string]any{"message": "Registered successfully, check mail"},
			kind: gateway.OutcomeOTPSent, message: gateway.MsgOTPSentSoft,
		},
		{
			name: "already registered", status: 400,
			body: map[string]any{"msg": "Email already registered"},
			kind: gateway.OutcomeRejected, message: gateway.MsgAlreadyExists,
		},
		{
			name: "nepal format", status: 400,
			body: map[string]any{"error": "Phone must be in Nepal format +977XXXXXXXXXX"},
			kind: gateway.OutcomeRejected, message: gateway.MsgNepalFormat,
		},
		{
			name: "all fields", status: 400,
			body: map[string]any{"msg": "All fields are required"},
			kind: gateway.OutcomeRejected, message: gateway.MsgAllFields,
		},
		{
			name: "password mismatch", status: 400,
			body:   map[string]any{"msg": "Passwords do not match"},
			kind:   gateway.OutcomeRejected,
			fields: map[registration.Field]string{registration.FieldConfirmPassword: "Passwords do not match"},
		},
		{
			name: "id verification", status: 400,
			body: map[string]any{"message": "ID Verification Failed: name mismatch"},
			kind: gateway.OutcomeRejected, message: gateway.MsgIDVerification,
		},
		{
			name: "fields list", status: 400,
			body: map[string]any{"fields": []any{"Full Name", "Ward No", "Nick Name"}},
			kind: gateway.OutcomeRejected,
			fields: map[registration.Field]string{
				registration.FieldFullName: "Please check Full Name",
				registration.FieldWard:     "Please check Ward No",
				"nickname":                 "Please check Nick Name",
			},
		},
		{
			name: "other 400 message", status: 400,
			body: map[string]any{"error": "Email domain blocked"},
			kind: gateway.OutcomeRejected, message: "Email domain blocked",
		},
		{
			name: "bare 400", status: 400, body: map[string]any{},
			kind: gateway.OutcomeRejected, message: gateway.MsgRejectedDefault,
		},
		{
			name: "500 email failure", status: 500,
			body: map[string]any{"msg": "Failed to send email"},
			kind: gateway.OutcomeDeliveryFailed, message: gateway.MsgDeliveryFailed,
		},
		{
			name: "500 OTP failure", status: 500,
			body: map[string]any{"error": "OTP delivery failed"},
			kind: gateway.OutcomeDeliveryFailed, message: gateway.MsgDeliveryFailed,
		},
		{
			name: "500 Email is case sensitive", status: 500,
			body: map[string]any{"msg": "Email server down"},
			kind: gateway.OutcomeFailed, message: "Server error: Email server down",
		},
		{
			name: "bare 500", status: 500, body: map[string]any{},
			kind: gateway.OutcomeFailed, message: "Server error: " + gateway.MsgServerDefault,
		},
		{
			name: "409", status: 409, body: map[string]any{"msg": "conflict"},
			kind: gateway.OutcomeFailed, message: "Registration failed (409). Please try again.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := gateway.Classify(statusErr(tt.status, tt.body))
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.message, out.Message)
			assert.Equal(t, tt.fields, out.FieldErrors)
			assert.Equal(t, tt.status, out.StatusCode)
		})
	}
}

func TestClassify_Success(t *testing.T) {
	out := gateway.Classify(&backend.Response{StatusCode: 201, Body: map[string]any{"msg": "OTP sent to email"}}, nil)
	assert.Equal(t, gateway.OutcomeOTPSent, out.Kind)
	assert.Equal(t, gateway.MsgOTPSent, out.Message)
	assert.True(t, out.OpensVerification())

	out = gateway.Classify(&backend.Response{StatusCode: 200, Body: map[string]any{"token": "jwt"}}, nil)
	assert.Equal(t, gateway.OutcomeAuthenticated, out.Kind)
	assert.Equal(t, "jwt", out.Token)
	assert.False(t, out.OpensVerification())
}

func TestClassify_NoResponse(t *testing.T) {
	out := gateway.Classify(nil, backend.NewNetworkError(errors.New("connection refused")))
	assert.Equal(t, gateway.OutcomeFailed, out.Kind)
	assert.Equal(t, gateway.MsgNetwork, out.Message)

	out = gateway.Classify(nil, context.DeadlineExceeded)
	assert.Equal(t, gateway.MsgUnexpected, out.Message)

	out = gateway.Classify(nil, nil)
	assert.Equal(t, gateway.OutcomeFailed, out.Kind)
	assert.Equal(t, gateway.MsgUnexpected, out.Message)
}

func TestClassify_DeliveryFailedOpensVerification(t *testing.T) {
	out := gateway.Classify(statusErr(500, map[string]any{"msg": "could not send OTP"}))
	assert.True(t, out.OpensVerification())
}

func customerDraft(t *testing.T, photo *registration.Attachment) registration.Draft {
	t.Helper()
	f := registration.NewCustomerForm()
	f.SetFullName("  Anish Sharma ")
	f.SetEmail("Anish@Example.com")
	f.SetPhone("9800000000")
	f.SetPassword("Abcdef1!")
	f.SetConfirmPassword("Abcdef1!")
	if photo != nil {
		require.NoError(t, f.SetProfilePhoto(photo))
	}
	d, err := f.Submit()
	require.NoError(t, err)
	return d
}

var gif = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")

func TestCustomerPayload(t *testing.T) {
	p, err := gateway.CustomerPayload{}.Build(customerDraft(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "application/json", p.ContentType)

	var body map[string]string
	require.NoError(t, json.Unmarshal(p.Body, &body))
	assert.Equal(t, map[string]string{
		"Full Name":        "Anish Sharma",
		"Email":            "anish@example.com",
		"Phone":            "+9779800000000",
		"Password":         "Abcdef1!",
		"Confirm Password": "Abcdef1!",
		"Profile Photo":    "",
	}, body)
}

func TestCustomerPayload_PhotoDataURL(t *testing.T) {
	p, err := gateway.CustomerPayload{}.Build(customerDraft(t, registration.NewAttachment("me.gif", gif)))
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal(p.Body, &body))
	assert.Equal(t, "data:image/gif;base64,"+base64.StdEncoding.EncodeToString(gif), body["Profile Photo"])
}

func TestCustomerPayload_UnreadablePhotoIsDropped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "me.gif")
	require.NoError(t, os.WriteFile(path, gif, 0644))
	photo, err := registration.LoadAttachment(path)
	require.NoError(t, err)
	d := customerDraft(t, photo)
	require.NoError(t, os.Remove(path))

	p, err := gateway.CustomerPayload{}.Build(d)
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.Unmarshal(p.Body, &body))
	assert.Equal(t, "", body["Profile Photo"])
}

func providerDraft() registration.Draft {
	pdf := registration.NewAttachment("cv.pdf", []byte("%PDF-1.4\n%%EOF\n"))
	return registration.Draft{
		Variant:         registration.VariantProvider,
		FullName:        "Sita Rai",
		Email:           " SITA@example.com",
		CountryCode:     "+977",
		Phone:           "9811111111",
		Password:        "Str0ng!pass",
		ConfirmPassword: "Str0ng!pass",
		Sex:             "Female",
		ProfilePhoto:    registration.NewAttachment("me.gif", gif),
		Service:         "Plumber",
		Experience:      "5",
		Skills:          []string{"pipes", "leak repair"},
		Province:        "Bagmati",
		District:        "Kathmandu",
		Municipality:    "Kirtipur Municipality",
		Ward:            "3",
		IDType:          "Citizenship",
		IDFile:          registration.NewAttachment("id.gif", gif),
		CV:              pdf,
		Portfolio:       []*registration.Attachment{pdf, registration.NewAttachment("work.gif", gif)},
		Certificates:    []*registration.Attachment{nil, pdf, nil},
	}
}

func TestProviderPayload(t *testing.T) {
	p, err := gateway.ProviderPayload{}.Build(providerDraft())
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(p.ContentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	form, err := multipart.NewReader(bytes.NewReader(p.Body), params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)

	assert.Equal(t, []string{"sita@example.com"}, form.Value["Email"])
	assert.Equal(t, []string{"+9779811111111"}, form.Value["Phone"])
	assert.Equal(t, []string{"pipes, leak repair"}, form.Value["Skills / Expertise"])
	assert.Equal(t, []string{"5"}, form.Value["Year of Experience"])
	assert.Equal(t, []string{""}, form.Value["Short Bio"])
	assert.Equal(t, []string{"3"}, form.Value["Ward No"])
	assert.Equal(t, []string{"Citizenship"}, form.Value["ID type"])

	require.Len(t, form.File["Profile Photo"], 1)
	assert.Equal(t, "image/gif", form.File["Profile Photo"][0].Header.Get("Content-Type"))
	require.Len(t, form.File["Upload CV"], 1)
	assert.Equal(t, "cv.pdf", form.File["Upload CV"][0].Filename)
	assert.Len(t, form.File["Portfolio"], 2)
	assert.Len(t, form.File["Extra Certificate"], 1, "empty slots are skipped")
}

type blockingRegistrar struct {
	release chan struct{}
	started chan struct{}
	calls   int
	mu      sync.Mutex
	body    []byte
	ctype   string
}

func (b *blockingRegistrar) Register(ctx context.Context, v registration.Variant, contentType string, body io.Reader) (*backend.Response, error) {
	b.mu.Lock()
	b.calls++
	b.ctype = contentType
	b.body, _ = io.ReadAll(body)
	b.mu.Unlock()
	if b.started != nil {
		close(b.started)
	}
	if b.release != nil {
		<-b.release
	}
	return &backend.Response{StatusCode: 201, Body: map[string]any{"msg": "OTP sent to email"}}, nil
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingObserver) ObserveSubmission(variant, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, variant+":"+kind)
}

func TestGateway_Submit(t *testing.T) {
	reg := &blockingRegistrar{}
	obs := &recordingObserver{}
	g := gateway.New(reg, gateway.WithObserver(obs))

	out, err := g.Submit(context.Background(), customerDraft(t, nil))
	require.NoError(t, err)
	assert.Equal(t, gateway.OutcomeOTPSent, out.Kind)
	assert.Equal(t, 1, reg.calls)
	assert.Equal(t, "application/json", reg.ctype)
	assert.Contains(t, string(reg.body), `"Email":"anish@example.com"`)
	assert.Equal(t, []string{"customer:otp_sent"}, obs.kinds)
}

func TestGateway_SubmitMasksEmailInLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	g := gateway.New(&blockingRegistrar{}, gateway.WithLogger(logger))

	_, err := g.Submit(context.Background(), customerDraft(t, nil))
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, "Submitting registration")
	assert.Contains(t, logs, "a***@example.com")
	assert.NotContains(t, logs, "anish@example.com")
}

func TestGateway_RejectsConcurrentSubmit(t *testing.T) {
	reg := &blockingRegistrar{release: make(chan struct{}), started: make(chan struct{})}
	g := gateway.New(reg)
	d := customerDraft(t, nil)

	done := make(chan gateway.Outcome)
	go func() {
		out, _ := g.Submit(context.Background(), d)
		done <- out
	}()
	<-reg.started
	assert.True(t, g.InFlight())

	_, err := g.Submit(context.Background(), d)
	assert.ErrorIs(t, err, gateway.ErrSubmissionInFlight)

	close(reg.release)
	out := <-done
	assert.Equal(t, gateway.OutcomeOTPSent, out.Kind)
	assert.False(t, g.InFlight())
	assert.Equal(t, 1, reg.calls)
}

type failingBuilder struct{}

func (failingBuilder) Build(registration.Draft) (*gateway.Payload, error) {
	return nil, fmt.Errorf("disk gone")
}

func TestGateway_BuildFailure(t *testing.T) {
	reg := &blockingRegistrar{}
	g := gateway.New(reg, gateway.WithBuilder(registration.VariantCustomer, failingBuilder{}))

	out, err := g.Submit(context.Background(), customerDraft(t, nil))
	require.NoError(t, err)
	assert.Equal(t, gateway.OutcomeFailed, out.Kind)
	assert.Equal(t, gateway.MsgUnexpected, out.Message)
	assert.Zero(t, reg.calls)
	assert.True(t, strings.Contains(out.Err.Error(), "disk gone"))
}
