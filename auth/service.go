package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"github.com/c360studio/proconnect/backend"
	"github.com/c360studio/proconnect/registration"
)

// Login failure messages.
const (
	MsgInvalidCredentials = "Invalid email or password"
	MsgNotVerified        = "Email not verified. Please check your email for verification link."
	MsgUserNotFound       = "User not found. Please register first."
	MsgLoginFailed        = "Login failed. Please try again."
	MsgInvalidEmail       = "Please enter a valid email"
	MsgShortPassword      = "Password must be at least 8 characters"
)

var (
	// ErrNotLoggedIn is returned when the store holds no token.
	ErrNotLoggedIn = errors.New("auth: not logged in")

	loginEmail = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// LoginError is a login the backend refused or could not answer.
type LoginError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *LoginError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("login failed (%d): %s", e.StatusCode, e.Message)
	}
	return "login failed: " + e.Message
}

func (e *LoginError) Unwrap() error { return e.Err }

// API is the backend surface used by Service.
type API interface {
	Login(ctx context.Context, v registration.Variant, req backend.LoginRequest) (*backend.Response, error)
	Logout(ctx context.Context, v registration.Variant) (*backend.Response, error)
	Me(ctx context.Context, v registration.Variant) (*backend.Response, error)
}

// Credentials are the login form. Latitude and Longitude are optional.
type Credentials struct {
	Email     string
	Password  string
	Latitude  *float64
	Longitude *float64
}

// UserData is the profile summary kept after login.
type UserData struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Session is a stored login.
type Session struct {
	Token string
	Role  registration.Variant
	User  UserData
	// Claims are read without verification; the client never holds the signing key.
	Claims    jwt.MapClaims
	ExpiresAt time.Time
}

// Expired reports whether the token carries an expiry that has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Service implements login, logout and whoami on top of a Store.
type Service struct {
	api    API
	store  Store
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service.
func NewService(api API, store Store, opts ...Option) *Service {
	s := &Service{api: api, store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateCredentials applies the login form rules.
func ValidateCredentials(c Credentials) error {
	fields := map[registration.Field]string{}
	if !loginEmail.MatchString(c.Email) {
		fields[registration.FieldEmail] = MsgInvalidEmail
	}
	if utf8.RuneCountInString(c.Password) < 8 {
		fields[registration.FieldPassword] = MsgShortPassword
	}
	if len(fields) > 0 {
		return &registration.ValidationError{Fields: fields}
	}
	return nil
}

// Login authenticates as variant v and stores the token, role and user data.
func (s *Service) Login(ctx context.Context, v registration.Variant, c Credentials) (*Session, error) {
	if err := ValidateCredentials(c); err != nil {
		return nil, err
	}

	resp, err := s.api.Login(ctx, v, backend.LoginRequest{
		Email:     c.Email,
		Password:  c.Password,
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
	})
	if err != nil {
		le := loginError(resp, err)
		s.logger.Warn("Login failed", "variant", v, "email", MaskEmail(c.Email), "status", le.StatusCode)
		return nil, le
	}

	token := resp.Token()
	if token == "" {
		return nil, &LoginError{StatusCode: resp.StatusCode, Message: MsgLoginFailed}
	}

	user := resp.Object("user")
	data := UserData{
		ID:    firstString(user, "id", "_id"),
		Name:  firstString(user, "FullName", "fullName"),
		Email: c.Email,
		Role:  string(v),
	}
	if data.Name == "" {
		data.Name, _, _ = strings.Cut(c.Email, "@")
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal user data: %w", err)
	}
	for _, kv := range [][2]string{{KeyToken, token}, {KeyRole, string(v)}, {KeyUserData, string(encoded)}} {
		if err := s.store.Set(ctx, kv[0], kv[1]); err != nil {
			return nil, fmt.Errorf("store session: %w", err)
		}
	}

	s.logger.Info("Logged in", "variant", v, "email", MaskEmail(c.Email))
	return newSession(token, v, data), nil
}

func loginError(resp *backend.Response, err error) *LoginError {
	se, ok := backend.AsStatus(err)
	if !ok {
		return &LoginError{Message: MsgLoginFailed, Err: err}
	}
	le := &LoginError{StatusCode: se.StatusCode(), Err: err}
	switch se.StatusCode() {
	case http.StatusBadRequest:
		le.Message = MsgInvalidCredentials
		if resp != nil {
			if msg := resp.String("error"); msg != "" {
				le.Message = msg
			}
		}
	case http.StatusForbidden:
		le.Message = MsgNotVerified
	case http.StatusNotFound:
		le.Message = MsgUserNotFound
	default:
		le.Message = MsgLoginFailed
	}
	return le
}

// Logout ends the server session and clears the stored keys whatever the
// backend answers. Only a failure to clear the store is returned.
func (s *Service) Logout(ctx context.Context) error {
	role, err := s.store.Get(ctx, KeyRole)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("read role: %w", err)
	}
	if _, err := s.store.Get(ctx, KeyToken); err == nil {
		if _, err := s.api.Logout(ctx, roleVariant(role)); err != nil {
			s.logger.Warn("Logout call failed, clearing local session anyway", "error", err)
		}
	}

	var errs []error
	for _, key := range sessionKeys {
		if err := s.store.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.Info("Logged out")
	return nil
}

// Current returns the stored session, or ErrNotLoggedIn.
func (s *Service) Current(ctx context.Context) (*Session, error) {
	token, err := s.store.Get(ctx, KeyToken)
	if errors.Is(err, ErrNotFound) || (err == nil && token == "") {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	role, err := s.store.Get(ctx, KeyRole)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("read role: %w", err)
	}

	var data UserData
	raw, err := s.store.Get(ctx, KeyUserData)
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			s.logger.Warn("Ignoring unreadable user data", "error", err)
		}
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("read user data: %w", err)
	}
	return newSession(token, roleVariant(role), data), nil
}

// Whoami returns the stored session and the profile the backend reports for it.
func (s *Service) Whoami(ctx context.Context) (*Session, map[string]any, error) {
	sess, err := s.Current(ctx)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.api.Me(ctx, sess.Role)
	if err != nil {
		return sess, nil, fmt.Errorf("fetch profile: %w", err)
	}
	if user := resp.Object("user"); user != nil {
		return sess, user, nil
	}
	return sess, resp.Body, nil
}

// Token implements backend.TokenSource. A missing token is not an error.
func (s *Service) Token(ctx context.Context) (string, error) {
	return StoreTokenSource{Store: s.store}.Token(ctx)
}

// StoreTokenSource reads the bearer token straight from a Store.
type StoreTokenSource struct {
	Store Store
}

// Token implements backend.TokenSource.
func (t StoreTokenSource) Token(ctx context.Context) (string, error) {
	token, err := t.Store.Get(ctx, KeyToken)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return token, err
}

func newSession(token string, role registration.Variant, data UserData) *Session {
	sess := &Session{Token: token, Role: role, User: data}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return sess
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return sess
	}
	sess.Claims = claims
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		sess.ExpiresAt = exp.Time
	}
	return sess
}

func roleVariant(role string) registration.Variant {
	if role == string(registration.VariantProvider) {
		return registration.VariantProvider
	}
	return registration.VariantCustomer
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// MaskEmail keeps the first character of the local part: a***@example.com.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	r, _ := utf8.DecodeRuneInString(local)
	return string(r) + "***@" + domain
}
