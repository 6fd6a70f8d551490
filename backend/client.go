// Package backend is the HTTP client for the Pro-Connect REST API. It sends one
// request per call and never retries; callers decide what a failure means.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/c360studio/proconnect/config"
	"github.com/c360studio/proconnect/registration"
)

// maxResponseSize limits the response body read into memory.
const maxResponseSize = 1 << 20 // 1MB

// Call names a backend operation. It is used in logs and metrics labels.
type Call string

const (
	CallRegister  Call = "register"
	CallVerifyOTP Call = "verify_otp"
	CallResendOTP Call = "resend_otp"
	CallLogin     Call = "login"
	CallLogout    Call = "logout"
	CallMe        Call = "me"
)

// TokenSource supplies the bearer token attached to every request, if any.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// RequestObserver is told about every completed request. Status is 0 when no
// response was received.
type RequestObserver interface {
	ObserveRequest(variant, call string, status int, elapsed time.Duration)
}

// Client talks to the registration, OTP and session endpoints.
type Client struct {
	baseURL    string
	endpoints  config.Endpoints
	httpClient *http.Client
	tokens     TokenSource
	observer   RequestObserver
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithTokenSource enables bearer authentication from the given source.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(client *Client) {
		client.tokens = ts
	}
}

// WithObserver records request outcomes, e.g. into metrics.
func WithObserver(o RequestObserver) ClientOption {
	return func(client *Client) {
		client.observer = o
	}
}

// NewClient creates a client for the API described by cfg.
func NewClient(cfg config.APIConfig, opts ...ClientOption) *Client {
	// cookiejar.New never returns a non-nil error
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		endpoints: cfg.Endpoints,
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Response is a backend answer. Body holds the decoded JSON object when the
// response was one.
type Response struct {
	RequestID  string
	StatusCode int
	Raw        []byte
	Body       map[string]any
	// Message is the first non-empty of the "msg", "error" and "message" fields,
	// or the text of an HTML error page.
	Message string
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// String returns a top-level string field of the body.
func (r *Response) String(key string) string {
	if r == nil || r.Body == nil {
		return ""
	}
	s, _ := r.Body[key].(string)
	return s
}

// Strings returns a top-level list field of the body, keeping only its strings.
func (r *Response) Strings(key string) []string {
	if r == nil || r.Body == nil {
		return nil
	}
	items, _ := r.Body[key].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Object returns a top-level object field of the body.
func (r *Response) Object(key string) map[string]any {
	if r == nil || r.Body == nil {
		return nil
	}
	obj, _ := r.Body[key].(map[string]any)
	return obj
}

// Token returns the session token, if the backend issued one.
func (r *Response) Token() string { return r.String("token") }

// Register posts a registration payload. The caller builds the body and its content type.
func (c *Client) Register(ctx context.Context, v registration.Variant, contentType string, body io.Reader) (*Response, error) {
	path := c.endpoints.Register(string(v))
	return c.do(ctx, v, CallRegister, http.MethodPost, path, contentType, body)
}

type otpRequest struct {
	Email string `json:"Email"`
	OTP   string `json:"OTP,omitempty"`
}

// VerifyOTP submits the six-digit code for email.
func (c *Client) VerifyOTP(ctx context.Context, v registration.Variant, email, code string) (*Response, error) {
	return c.postJSON(ctx, v, CallVerifyOTP, c.endpoints.Verify(string(v)), otpRequest{Email: email, OTP: code})
}

// ResendOTP asks the backend to send a new code to email.
func (c *Client) ResendOTP(ctx context.Context, v registration.Variant, email string) (*Response, error) {
	return c.postJSON(ctx, v, CallResendOTP, c.endpoints.Resend(string(v)), otpRequest{Email: email})
}

// LoginRequest is the login payload. Coordinates are sent as null when unknown.
type LoginRequest struct {
	Email     string   `json:"Email"`
	Password  string   `json:"Password"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, v registration.Variant, req LoginRequest) (*Response, error) {
	return c.postJSON(ctx, v, CallLogin, c.endpoints.Login(string(v)), req)
}

// Logout ends the server-side session of the current bearer token.
func (c *Client) Logout(ctx context.Context, v registration.Variant) (*Response, error) {
	return c.postJSON(ctx, v, CallLogout, c.endpoints.Logout(string(v)), struct{}{})
}

// Me fetches the profile of the current bearer token.
func (c *Client) Me(ctx context.Context, v registration.Variant) (*Response, error) {
	return c.do(ctx, v, CallMe, http.MethodGet, c.endpoints.Me(string(v)), "", nil)
}

func (c *Client) postJSON(ctx context.Context, v registration.Variant, call Call, path string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", call, err)
	}
	return c.do(ctx, v, call, http.MethodPost, path, "application/json", bytes.NewReader(body))
}

// do executes a single request. A non-2xx answer returns the parsed response
// together with a *StatusError; a transport failure returns a *NetworkError.
func (c *Client) do(ctx context.Context, v registration.Variant, call Call, method, path, contentType string, body io.Reader) (*Response, error) {
	requestID := uuid.New().String()
	url := c.baseURL + path

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create HTTP request: %w", call, err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			c.logger.Warn("Failed to read session token", "call", call, "error", err)
		} else if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	c.logger.Debug("Sending backend request",
		"call", call,
		"variant", v,
		"method", method,
		"url", url,
		"request_id", requestID)

	startedAt := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(v, call, 0, time.Since(startedAt))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", call, ctxErr)
		}
		return nil, NewNetworkError(fmt.Errorf("%s: HTTP request failed: %w", call, err))
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		c.observe(v, call, 0, time.Since(startedAt))
		return nil, NewNetworkError(fmt.Errorf("%s: read response body: %w", call, err))
	}
	c.observe(v, call, httpResp.StatusCode, time.Since(startedAt))

	resp := &Response{
		RequestID:  requestID,
		StatusCode: httpResp.StatusCode,
		Raw:        raw,
	}
	parseBody(resp, httpResp.Header.Get("Content-Type"))

	c.logger.Debug("Backend response",
		"call", call,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(startedAt))

	if !resp.OK() {
		return resp, &StatusError{Call: string(call), Response: resp}
	}
	return resp, nil
}

func (c *Client) observe(v registration.Variant, call Call, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(string(v), string(call), status, elapsed)
	}
}

// parseBody decodes a JSON object body and extracts the message.
// Non-JSON bodies leave Body nil.
func parseBody(resp *Response, contentType string) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if mediaType == "text/html" {
		resp.Message = htmlMessage(resp.Raw)
		return
	}

	var obj map[string]any
	if err := json.Unmarshal(resp.Raw, &obj); err != nil {
		if mediaType == "text/plain" {
			resp.Message = truncate(strings.TrimSpace(string(resp.Raw)), maxHTMLMessage)
		}
		return
	}
	resp.Body = obj
	for _, key := range []string{"msg", "error", "message"} {
		if s := resp.String(key); s != "" {
			resp.Message = s
			return
		}
	}
}
