// Package mockbackend is an in-memory stand-in for the Pro-Connect REST API.
// It serves the registration, OTP and session endpoints for tests and local
// runs, records every request, and can be told to fail in the ways the real
// backend does.
package mockbackend

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// Defaults for Options.
const (
	DefaultOTPTTL         = 5 * time.Minute
	DefaultResendInterval = 30 * time.Second
	DefaultTokenTTL       = time.Hour
)

var nepalPhone = regexp.MustCompile(`^\+977[0-9]{10}$`)

// Options configures a Server.
type Options struct {
	// EmailFailure answers registrations with 500 "failed to send OTP email"
	// after creating the account.
	EmailFailure bool
	// Return400OnSuccess answers successful registrations with 400 "OTP sent to email".
	Return400OnSuccess bool
	// ResendInterval is the per-account resend rate; negative disables the limit.
	ResendInterval time.Duration
	OTPTTL         time.Duration
	TokenTTL       time.Duration
	// FixedOTP, when set, is issued instead of a random code.
	FixedOTP  string
	JWTSecret []byte
	Mailer    Mailer
	Logger    *slog.Logger
}

// Account is a registered user.
type Account struct {
	ID           string
	Variant      string
	FullName     string
	Email        string
	Phone        string
	Verified     bool
	Fields       map[string]string
	Files        map[string][]string
	passwordHash []byte
	otp          string
	otpIssued    time.Time
}

// CapturedRequest is a request as the server saw it.
type CapturedRequest struct {
	Call          string              `json:"call"`
	Variant       string              `json:"variant"`
	ContentType   string              `json:"content_type"`
	Authorization string              `json:"authorization,omitempty"`
	Fields        map[string]string   `json:"fields,omitempty"`
	Files         map[string][]string `json:"files,omitempty"`
}

// Server is the mock backend.
type Server struct {
	opts   Options
	logger *slog.Logger
	engine *gin.Engine
	now    func() time.Time

	mu       sync.Mutex
	accounts map[string]*Account
	limiters map[string]*rate.Limiter
	requests []CapturedRequest
	revoked  map[string]bool
}

// New creates a Server. Routes are mounted under /api.
func New(opts Options) *Server {
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = DefaultOTPTTL
	}
	if opts.ResendInterval == 0 {
		opts.ResendInterval = DefaultResendInterval
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if len(opts.JWTSecret) == 0 {
		opts.JWTSecret = []byte(uuid.NewString())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Mailer == nil {
		opts.Mailer = LogMailer{Logger: logger}
	}

	s := &Server{
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		accounts: make(map[string]*Account),
		limiters: make(map[string]*rate.Limiter),
		revoked:  make(map[string]bool),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	for _, v := range []struct {
		name, prefix, register, verify, resend, login, logout, me string
	}{
		{"customer", "/customer", "/register", "/verify-otp", "/resend-otp", "/login", "/logout", "/me"},
		{"provider", "/service-provider", "/sp-register", "/sp-verify-otp", "/sp-resend-otp", "/sp-login", "/sp-logout", "/sp-me"},
	} {
		variant := v.name
		g := api.Group(v.prefix)
		if variant == "provider" {
			g.POST(v.register, s.registerProvider)
		} else {
			g.POST(v.register, s.registerCustomer)
		}
		g.POST(v.verify, func(c *gin.Context) { s.verify(c, variant) })
		g.POST(v.resend, func(c *gin.Context) { s.resend(c, variant) })
		g.POST(v.login, func(c *gin.Context) { s.login(c, variant) })
		g.POST(v.logout, func(c *gin.Context) { s.logout(c, variant) })
		g.GET(v.me, func(c *gin.Context) { s.me(c, variant) })
	}

	test := r.Group("/_test")
	test.GET("/otp", s.peekOTP)
	test.GET("/requests", s.listRequests)
	test.POST("/failures", s.setFailures)
	return r
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Mock backend request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// SetEmailFailure toggles the OTP email failure mode.
func (s *Server) SetEmailFailure(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.EmailFailure = on
}

// SetReturn400OnSuccess toggles the soft-success 400 mode.
func (s *Server) SetReturn400OnSuccess(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Return400OnSuccess = on
}

// SetClock replaces the clock used for OTP and token expiry.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// OTP returns the current code of an account.
func (s *Server) OTP(variant, email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountKey(variant, email)]
	if !ok || a.otp == "" {
		return "", false
	}
	return a.otp, true
}

// Account returns a copy of a registered account.
func (s *Server) Account(variant, email string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountKey(variant, email)]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// Requests returns the captured requests of a call, or all when call is empty.
func (s *Server) Requests(call string) []CapturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CapturedRequest
	for _, r := range s.requests {
		if call == "" || r.Call == call {
			out = append(out, r)
		}
	}
	return out
}

func accountKey(variant, email string) string {
	return variant + ":" + strings.ToLower(strings.TrimSpace(email))
}

func (s *Server) capture(c *gin.Context, call, variant string, fields map[string]string, files map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, CapturedRequest{
		Call:          call,
		Variant:       variant,
		ContentType:   c.ContentType(),
		Authorization: c.GetHeader("Authorization"),
		Fields:        fields,
		Files:         files,
	})
}

type customerRegistration struct {
	FullName        string `json:"Full Name"`
	Email           string `json:"Email"`
	Phone           string `json:"Phone"`
	Password        string `json:"Password"`
	ConfirmPassword string `json:"Confirm Password"`
	ProfilePhoto    string `json:"Profile Photo"`
}

func (s *Server) registerCustomer(c *gin.Context) {
	var req customerRegistration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid request body"})
		return
	}
	fields := map[string]string{
		"Full Name":        req.FullName,
		"Email":            req.Email,
		"Phone":            req.Phone,
		"Password":         req.Password,
		"Confirm Password": req.ConfirmPassword,
		"Profile Photo":    req.ProfilePhoto,
	}
	s.capture(c, "register", "customer", redact(fields), nil)

	if req.FullName == "" || req.Email == "" || req.Phone == "" || req.Password == "" || req.ConfirmPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "All fields are required"})
		return
	}
	s.createAccount(c, "customer", fields, nil)
}

var (
	providerTextFields = []string{
		"Full Name", "Email", "Phone", "Password", "Confirm Password", "Sex", "Service",
		"Year of Experience", "Skills / Expertise", "Short Bio", "Province", "District",
		"Municipality", "Ward No", "ID type",
	}
	providerFileFields = []string{"Profile Photo", "Upload ID", "Upload CV"}
)

func (s *Server) registerProvider(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Expected multipart form data"})
		return
	}
	fields := make(map[string]string, len(form.Value))
	for k, v := range form.Value {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	files := fileNames(form)
	s.capture(c, "register", "provider", redact(fields), files)

	var missing []string
	for _, f := range providerTextFields {
		if strings.TrimSpace(fields[f]) == "" {
			missing = append(missing, f)
		}
	}
	for _, f := range providerFileFields {
		if len(files[f]) == 0 {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Missing required fields", "fields": missing})
		return
	}
	s.createAccount(c, "provider", fields, files)
}

func fileNames(form *multipart.Form) map[string][]string {
	out := make(map[string][]string, len(form.File))
	for field, headers := range form.File {
		for _, h := range headers {
			out[field] = append(out[field], h.Filename)
		}
	}
	return out
}

func redact(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch k {
		case "Password", "Confirm Password":
			out[k] = strings.Repeat("*", len(v))
		case "Profile Photo":
			if v != "" {
				if head, _, ok := strings.Cut(v, ","); ok {
					v = head + ",..."
				}
			}
			out[k] = v
		default:
			out[k] = v
		}
	}
	return out
}

func (s *Server) createAccount(c *gin.Context, variant string, fields map[string]string, files map[string][]string) {
	if !nepalPhone.MatchString(fields["Phone"]) {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Phone must be in Nepal format (+977XXXXXXXXXX)"})
		return
	}
	if fields["Password"] != fields["Confirm Password"] {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Passwords do not match"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(fields["Password"]), bcrypt.MinCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Failed to hash password"})
		return
	}
	code, err := s.newOTP()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Failed to generate OTP"})
		return
	}

	key := accountKey(variant, fields["Email"])
	s.mu.Lock()
	if _, exists := s.accounts[key]; exists {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Email already registered"})
		return
	}
	kept := make(map[string]string, len(fields))
	for k, v := range fields {
		if k != "Password" && k != "Confirm Password" {
			kept[k] = v
		}
	}
	a := &Account{
		ID:           uuid.NewString(),
		Variant:      variant,
		FullName:     fields["Full Name"],
		Email:        strings.ToLower(strings.TrimSpace(fields["Email"])),
		Phone:        fields["Phone"],
		Fields:       kept,
		Files:        files,
		passwordHash: hash,
		otp:          code,
		otpIssued:    s.now(),
	}
	s.accounts[key] = a
	if s.opts.ResendInterval > 0 {
		s.limiters[key] = rate.NewLimiter(rate.Every(s.opts.ResendInterval), 1)
	}
	emailFailure := s.opts.EmailFailure
	soft400 := s.opts.Return400OnSuccess
	s.mu.Unlock()

	if emailFailure {
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "User registered but failed to send OTP email"})
		return
	}
	if err := s.opts.Mailer.SendOTP(a.Email, a.FullName, code); err != nil {
		s.logger.Warn("OTP email failed", "email", a.Email, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "User registered but failed to send OTP email"})
		return
	}
	if soft400 {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "OTP sent to email"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"msg": "OTP sent to email"})
}

func (s *Server) newOTP() (string, error) {
	if s.opts.FixedOTP != "" {
		return s.opts.FixedOTP, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

type otpRequest struct {
	Email string `json:"Email"`
	OTP   string `json:"OTP"`
}

func (s *Server) verify(c *gin.Context, variant string) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid request body"})
		return
	}
	s.capture(c, "verify_otp", variant, map[string]string{"Email": req.Email, "OTP": req.OTP}, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountKey(variant, req.Email)]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"msg": "User not found"})
		return
	}
	if a.Verified {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Email already verified"})
		return
	}
	if a.otp == "" || a.otp != req.OTP || s.now().Sub(a.otpIssued) > s.opts.OTPTTL {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid or expired OTP"})
		return
	}
	a.Verified = true
	a.otp = ""
	c.JSON(http.StatusOK, gin.H{"msg": "Email verified successfully"})
}

func (s *Server) resend(c *gin.Context, variant string) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid request body"})
		return
	}
	s.capture(c, "resend_otp", variant, map[string]string{"Email": req.Email}, nil)

	key := accountKey(variant, req.Email)
	s.mu.Lock()
	a, ok := s.accounts[key]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"msg": "User not found"})
		return
	}
	if a.Verified {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Email already verified"})
		return
	}
	if lim := s.limiters[key]; lim != nil && !lim.AllowN(s.now(), 1) {
		s.mu.Unlock()
		c.JSON(http.StatusTooManyRequests, gin.H{"msg": "Please wait before requesting another OTP"})
		return
	}
	code, err := s.newOTP()
	if err != nil {
		s.mu.Unlock()
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Failed to generate OTP"})
		return
	}
	a.otp = code
	a.otpIssued = s.now()
	email, name := a.Email, a.FullName
	s.mu.Unlock()

	if err := s.opts.Mailer.SendOTP(email, name, code); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Failed to send OTP email"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "OTP resent to email"})
}

type loginRequest struct {
	Email     string   `json:"Email"`
	Password  string   `json:"Password"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type sessionClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (s *Server) login(c *gin.Context, variant string) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	s.capture(c, "login", variant, map[string]string{"Email": req.Email}, nil)

	a, ok := s.Account(variant, req.Email)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(req.Password)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email or password"})
		return
	}
	if !a.Verified {
		c.JSON(http.StatusForbidden, gin.H{"error": "Email not verified"})
		return
	}

	s.mu.Lock()
	now := s.now()
	s.mu.Unlock()
	claims := sessionClaims{
		Email: a.Email,
		Role:  variant,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.JWTSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  gin.H{"_id": a.ID, "FullName": a.FullName, "Email": a.Email},
	})
}

var errUnauthorized = errors.New("unauthorized")

func (s *Server) authenticate(c *gin.Context, variant string) (*sessionClaims, error) {
	scheme, tokenStr, ok := strings.Cut(strings.TrimSpace(c.GetHeader("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || tokenStr == "" {
		return nil, errUnauthorized
	}
	s.mu.Lock()
	now := s.now()
	revoked := s.revoked
	s.mu.Unlock()

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.opts.JWTSecret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !token.Valid || claims.Role != variant {
		return nil, errUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if revoked[claims.ID] {
		return nil, errUnauthorized
	}
	return claims, nil
}

func (s *Server) logout(c *gin.Context, variant string) {
	s.capture(c, "logout", variant, nil, nil)
	claims, err := s.authenticate(c, variant)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}
	s.mu.Lock()
	s.revoked[claims.ID] = true
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"msg": "Logged out"})
}

func (s *Server) me(c *gin.Context, variant string) {
	s.capture(c, "me", variant, nil, nil)
	claims, err := s.authenticate(c, variant)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}
	a, ok := s.Account(variant, claims.Email)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	user := gin.H{"_id": a.ID, "FullName": a.FullName, "Email": a.Email, "Phone": a.Phone, "role": variant}
	for k, v := range a.Fields {
		if _, set := user[k]; !set && k != "Profile Photo" {
			user[k] = v
		}
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (s *Server) peekOTP(c *gin.Context) {
	variant := c.DefaultQuery("variant", "customer")
	code, ok := s.OTP(variant, c.Query("email"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"msg": "No pending OTP"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"otp": code})
}

func (s *Server) listRequests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"requests": s.Requests(c.Query("call"))})
}

type failureModes struct {
	EmailFailure       *bool `json:"email_failure"`
	Return400OnSuccess *bool `json:"return_400_on_success"`
}

func (s *Server) setFailures(c *gin.Context) {
	var req failureModes
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid request body"})
		return
	}
	if req.EmailFailure != nil {
		s.SetEmailFailure(*req.EmailFailure)
	}
	if req.Return400OnSuccess != nil {
		s.SetReturn400OnSuccess(*req.Return400OnSuccess)
	}
	s.mu.Lock()
	state := gin.H{"email_failure": s.opts.EmailFailure, "return_400_on_success": s.opts.Return400OnSuccess}
	s.mu.Unlock()
	c.JSON(http.StatusOK, state)
}
