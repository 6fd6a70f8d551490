package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/c360studio/proconnect/backend"
	"github.com/c360studio/proconnect/registration"
)

// OutcomeKind is the classified result of a registration submission.
type OutcomeKind int

const (
	// OutcomeFailed is a hard failure; the draft stays editable.
	OutcomeFailed OutcomeKind = iota
	// OutcomeAuthenticated means the backend issued a session token.
	OutcomeAuthenticated
	// OutcomeOTPSent means the account exists and a code was emailed.
	OutcomeOTPSent
	// OutcomeRejected carries field errors and/or a form message from the backend.
	OutcomeRejected
	// OutcomeDeliveryFailed is a soft success: the account was likely created but
	// the email did not go out, so the user should resend.
	OutcomeDeliveryFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeOTPSent:
		return "otp_sent"
	case OutcomeRejected:
		return "rejected"
	case OutcomeDeliveryFailed:
		return "delivery_failed"
	default:
		return "failed"
	}
}

// User-facing messages.
const (
	MsgOTPSent          = "Registration successful! OTP has been sent to your email."
	MsgOTPSentSoft      = "OTP has been sent to your email."
	MsgDeliveryFailed   = "Registration successful! Please use the 'Resend OTP' button to get verification code."
	MsgAlreadyExists    = "This email is already registered. Please use a different email or login."
	MsgNepalFormat      = "Phone number must be in Nepal format (+977 followed by 10 digits). Example: +9779800000000"
	MsgAllFields        = "Please fill all required fields."
	MsgIDVerification   = "ID verification failed. Please ensure your ID document matches your information."
	MsgPasswordMismatch = "Passwords do not match"
	MsgRejectedDefault  = "Registration failed. Please check your information."
	MsgServerDefault    = "Internal server error. Please try again later."
	MsgNetwork          = "Unable to connect to server. Please check your internet connection."
	MsgUnexpected       = "An unexpected error occurred. Please try again."
)

// Outcome is what the user sees after a submission.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	// Message is the form-level success or error message.
	Message     string
	FieldErrors map[registration.Field]string
	// Token is set for OutcomeAuthenticated.
	Token string
	// Err is the underlying error for failures.
	Err error
}

// OpensVerification reports whether the OTP step should open.
func (o Outcome) OpensVerification() bool {
	return o.Kind == OutcomeOTPSent || o.Kind == OutcomeDeliveryFailed
}

// backendFields maps the backend's field labels to draft fields.
var backendFields = map[string]registration.Field{
	"Full Name":          registration.FieldFullName,
	"Email":              registration.FieldEmail,
	"Phone":              registration.FieldPhone,
	"Password":           registration.FieldPassword,
	"Confirm Password":   registration.FieldConfirmPassword,
	"Profile Photo":      registration.FieldProfilePhoto,
	"Sex":                registration.FieldSex,
	"Service":            registration.FieldService,
	"Year of Experience": registration.FieldExperience,
	"Skills / Expertise": registration.FieldSkills,
	"Short Bio":          registration.FieldBio,
	"Province":           registration.FieldProvince,
	"District":           registration.FieldDistrict,
	"Municipality":       registration.FieldMunicipality,
	"Ward No":            registration.FieldWard,
	"ID type":            registration.FieldIDType,
	"Upload ID":          registration.FieldIDFile,
	"Upload CV":          registration.FieldCV,
	"Portfolio":          registration.FieldPortfolio,
	"Extra Certificate":  registration.FieldCertificates,
}

// FieldForLabel maps a backend field label to a draft field. Unknown labels are
// lowercased with spaces removed.
func FieldForLabel(label string) registration.Field {
	if f, ok := backendFields[label]; ok {
		return f
	}
	return registration.Field(strings.ReplaceAll(strings.ToLower(label), " ", ""))
}

// Classify maps a registration response, or the error that replaced it, to an
// Outcome. It is pure: it performs no I/O and keeps no state.
func Classify(resp *backend.Response, err error) Outcome {
	if err == nil {
		if resp == nil || !resp.OK() {
			return Outcome{Kind: OutcomeFailed, Message: MsgUnexpected}
		}
		if token := resp.Token(); token != "" {
			return Outcome{Kind: OutcomeAuthenticated, StatusCode: resp.StatusCode, Message: resp.Message, Token: token}
		}
		return Outcome{Kind: OutcomeOTPSent, StatusCode: resp.StatusCode, Message: MsgOTPSent}
	}

	se, ok := backend.AsStatus(err)
	if !ok {
		if backend.IsNetwork(err) {
			return Outcome{Kind: OutcomeFailed, Message: MsgNetwork, Err: err}
		}
		return Outcome{Kind: OutcomeFailed, Message: MsgUnexpected, Err: err}
	}

	resp = se.Response
	status := resp.StatusCode
	msg := resp.Message
	lower := strings.ToLower(msg)

	// Some backends answer an already-created account with an error status but
	// an "OTP sent" message; treat it as sent.
	if (status == http.StatusBadRequest || status == http.StatusInternalServerError) &&
		(strings.Contains(lower, "otp sent") || strings.Contains(lower, "registered successfully")) {
		return Outcome{Kind: OutcomeOTPSent, StatusCode: status, Message: MsgOTPSentSoft}
	}

	switch {
	case status == http.StatusBadRequest:
		out := rejected(resp)
		out.StatusCode = status
		out.Err = err
		return out

	case status == http.StatusInternalServerError:
		if strings.Contains(msg, "OTP") || strings.Contains(msg, "email") {
			return Outcome{Kind: OutcomeDeliveryFailed, StatusCode: status, Message: MsgDeliveryFailed, Err: err}
		}
		if msg == "" {
			msg = MsgServerDefault
		}
		return Outcome{Kind: OutcomeFailed, StatusCode: status, Message: "Server error: " + msg, Err: err}

	default:
		return Outcome{
			Kind:       OutcomeFailed,
			StatusCode: status,
			Message:    fmt.Sprintf("Registration failed (%d). Please try again.", status),
			Err:        err,
		}
	}
}

func rejected(resp *backend.Response) Outcome {
	msg := resp.Message
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "already registered"):
		return Outcome{Kind: OutcomeRejected, Message: MsgAlreadyExists}
	case strings.Contains(lower, "phone must be in nepal format"):
		return Outcome{Kind: OutcomeRejected, Message: MsgNepalFormat}
	case strings.Contains(lower, "all fields are required"):
		return Outcome{Kind: OutcomeRejected, Message: MsgAllFields}
	case strings.Contains(lower, "passwords do not match"):
		return Outcome{
			Kind:        OutcomeRejected,
			FieldErrors: map[registration.Field]string{registration.FieldConfirmPassword: MsgPasswordMismatch},
		}
	case strings.Contains(lower, "id verification failed"):
		return Outcome{Kind: OutcomeRejected, Message: MsgIDVerification}
	}

	if labels := resp.Strings("fields"); len(labels) > 0 {
		fields := make(map[registration.Field]string, len(labels))
		for _, label := range labels {
			fields[FieldForLabel(label)] = "Please check " + label
		}
		return Outcome{Kind: OutcomeRejected, FieldErrors: fields}
	}

	if msg == "" {
		msg = MsgRejectedDefault
	}
	return Outcome{Kind: OutcomeRejected, Message: msg}
}
