package commands

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/proconnect/config"
	"github.com/c360studio/proconnect/mockbackend"
	"github.com/c360studio/proconnect/otp"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testPDF = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n"

type cli struct {
	t       *testing.T
	dir     string
	cfgPath string
	baseURL string
	srv     *mockbackend.Server
}

// newCLI starts a mock backend and writes a config pointing at it with a file
// session store and a metrics textfile inside the test directory.
func newCLI(t *testing.T, opts mockbackend.Options) *cli {
	t.Helper()
	if opts.Mailer == nil {
		opts.Mailer = &mockbackend.MemoryMailer{}
	}
	c := &cli{t: t, dir: t.TempDir(), srv: mockbackend.New(opts)}
	ts := httptest.NewServer(c.srv.Handler())
	t.Cleanup(ts.Close)

	cfg := config.DefaultConfig()
	c.baseURL = ts.URL + "/api"
	cfg.API.BaseURL = c.baseURL
	cfg.Session.Store = config.StoreFile
	cfg.Session.File = filepath.Join(c.dir, "session.yaml")
	cfg.OTP.RedirectDelay = 1
	cfg.Metrics.Textfile = filepath.Join(c.dir, "metrics.prom")
	c.cfgPath = filepath.Join(c.dir, "proconnect.yaml")
	require.NoError(t, cfg.SaveToFile(c.cfgPath))
	return c
}

func (c *cli) run(stdin string, args ...string) (string, string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd("1.2.3", "test")
	cmd.SetArgs(append([]string{"--config", c.cfgPath}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (c *cli) writeFile(name string, data []byte) string {
	c.t.Helper()
	path := filepath.Join(c.dir, name)
	require.NoError(c.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(c.t, os.WriteFile(path, data, 0o644))
	return path
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

var customerArgs = []string{
	"register", "customer",
	"--name", "Anish Sharma",
	"--email", "anish@example.com",
	"--phone", "980-000-0000",
	"--password", "Abcdef1!",
	"--confirm-password", "Abcdef1!",
}

func TestRegisterCustomer_VerifiesAndLogsIn(t *testing.T) {
	c := newCLI(t, mockbackend.Options{FixedOTP: "482913"})

	stdout, _, err := c.run("12\n482913\n", customerArgs...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "OTP has been sent to your email")
	assert.Contains(t, stdout, otp.MsgIncomplete)
	assert.Contains(t, stdout, otp.MsgVerified)
	assert.Contains(t, stdout, "proconnect login")

	acct, ok := c.srv.Account("customer", "anish@example.com")
	require.True(t, ok)
	assert.True(t, acct.Verified)
	assert.Equal(t, "+9779800000000", acct.Phone)

	metrics, err := os.ReadFile(filepath.Join(c.dir, "metrics.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `proconnect_otp_outcomes_total{outcome="verified",variant="customer"} 1`)

	stdout, _, err = c.run("", "login", "--email", "anish@example.com", "--password", "Abcdef1!")
	require.NoError(t, err)
	assert.Equal(t, "Logged in as Anish Sharma (customer)\n", stdout)

	stdout, _, err = c.run("", "whoami")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Email: anish@example.com")
	assert.Contains(t, stdout, "Role:  customer")
	assert.Contains(t, stdout, "Token: valid until")
	assert.Contains(t, stdout, "Phone: +9779800000000")

	stdout, _, err = c.run("", "logout")
	require.NoError(t, err)
	assert.Equal(t, "Logged out\n", stdout)
	assert.Len(t, c.srv.Requests("logout"), 1)

	_, _, err = c.run("", "whoami", "--offline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestRegisterCustomer_ValidationStopsBeforeBackend(t *testing.T) {
	c := newCLI(t, mockbackend.Options{})
	args := append([]string{}, customerArgs...)
	args[len(args)-1] = "Abcdef1?"

	_, stderr, err := c.run("", args...)
	require.Error(t, err)
	assert.Contains(t, stderr, "confirmPassword: Passwords do not match")
	assert.Empty(t, c.srv.Requests("register"))
}

func TestRegisterCustomer_BackOut(t *testing.T) {
	c := newCLI(t, mockbackend.Options{})

	_, _, err := c.run("b\n", customerArgs...)
	require.ErrorIs(t, err, ErrAbandoned)
	assert.Len(t, c.srv.Requests("register"), 1)
	assert.Empty(t, c.srv.Requests("verify_otp"))
}

func TestRegisterCustomer_ResendLocked(t *testing.T) {
	c := newCLI(t, mockbackend.Options{})

	stdout, _, err := c.run("r\n", customerArgs...)
	require.ErrorIs(t, err, ErrAbandoned, "input ends after the resend attempt")
	assert.Contains(t, stdout, "Resend is not available yet.")
	assert.Empty(t, c.srv.Requests("resend_otp"))
}

func TestRegisterCustomer_NoVerifyThenVerifyCommand(t *testing.T) {
	c := newCLI(t, mockbackend.Options{FixedOTP: "123456"})

	stdout, _, err := c.run("", append(customerArgs, "--no-verify")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "proconnect verify --variant customer --email anish@example.com --code <code>")

	_, _, err = c.run("", "verify", "--email", "anish@example.com", "--code", "654321")
	require.Error(t, err)
	assert.Equal(t, "Invalid or expired OTP", err.Error())

	_, _, err = c.run("", "verify", "--email", "anish@example.com", "--code", "12")
	require.Error(t, err)
	assert.Equal(t, otp.MsgIncomplete, err.Error())

	stdout, _, err = c.run("", "resend", "--email", "anish@example.com")
	require.NoError(t, err)
	assert.Equal(t, otp.MsgResent+"\n", stdout)

	stdout, _, err = c.run("", "verify", "--email", "anish@example.com", "--code", "123456")
	require.NoError(t, err)
	assert.Equal(t, otp.MsgVerified+"\n", stdout)
}

func TestVerifyAndResend_NormalizeEmail(t *testing.T) {
	c := newCLI(t, mockbackend.Options{FixedOTP: "123456"})
	_, _, err := c.run("", append(customerArgs, "--no-verify")...)
	require.NoError(t, err)

	_, _, err = c.run("", "resend", "--email", " Anish@Example.COM ")
	require.NoError(t, err)
	stdout, _, err := c.run("", "verify", "--email", " Anish@Example.COM ", "--code", "123456")
	require.NoError(t, err)
	assert.Equal(t, otp.MsgVerified+"\n", stdout)

	for _, call := range []string{"resend_otp", "verify_otp"} {
		reqs := c.srv.Requests(call)
		require.Len(t, reqs, 1, call)
		assert.Equal(t, "anish@example.com", reqs[0].Fields["Email"], call)
	}
}

func TestRegisterProvider_IDFileHelpMatchesValidation(t *testing.T) {
	cmd, _, err := NewRootCmd("1.2.3", "test").Find([]string{"register", "provider"})
	require.NoError(t, err)
	flag := cmd.Flags().Lookup("id-file")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Usage, "image")
	assert.NotContains(t, flag.Usage, "PDF")
}

func TestRegisterCustomer_DuplicateEmail(t *testing.T) {
	c := newCLI(t, mockbackend.Options{})
	_, _, err := c.run("", append(customerArgs, "--no-verify")...)
	require.NoError(t, err)

	_, stderr, err := c.run("", append(customerArgs, "--no-verify")...)
	require.Error(t, err)
	assert.Contains(t, stderr, "This email is already registered")
}

func TestRegisterProvider(t *testing.T) {
	c := newCLI(t, mockbackend.Options{FixedOTP: "246810"})
	img := pngData(t)
	photo := c.writeFile("me.png", img)
	id := c.writeFile("id.png", img)
	cv := c.writeFile("cv.pdf", []byte(testPDF))
	c.writeFile("work/kitchen/a.png", img)
	c.writeFile("work/bath/b.png", img)
	c.writeFile("work/notes.txt", []byte("not included"))
	cert := c.writeFile("cert.pdf", []byte(testPDF))

	stdout, stderr, err := c.run("246810\n",
		"register", "provider",
		"--name", "Sita Rai",
		"--email", "sita@example.com",
		"--phone", "9811111111",
		"--sex", "Female",
		"--password", "Str0ng!pass",
		"--confirm-password", "Str0ng!pass",
		"--photo", photo,
		"--service", "Plumber",
		"--experience", "5",
		"--skills", "pipes,leak repair",
		"--bio", "Fixes leaks",
		"--province", "Bagmati",
		"--district", "Kathmandu",
		"--municipality", "Kirtipur Municipality",
		"--ward", "3",
		"--id-type", "Citizenship",
		"--id-file", id,
		"--cv", cv,
		"--portfolio", filepath.Join(c.dir, "work", "**", "*.png"),
		"--certificate", cert,
	)
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, otp.MsgVerified)

	regs := c.srv.Requests("register")
	require.Len(t, regs, 1)
	assert.Equal(t, "pipes, leak repair", regs[0].Fields["Skills / Expertise"])
	assert.Equal(t, []string{"a.png", "b.png"}, sortedCopy(regs[0].Files["Portfolio"]))
	assert.Equal(t, []string{"cert.pdf"}, regs[0].Files["Extra Certificate"])

	acct, ok := c.srv.Account("provider", "sita@example.com")
	require.True(t, ok)
	assert.True(t, acct.Verified)
}

func sortedCopy(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}

func TestRegisterProvider_ReportsFirstIncompleteStep(t *testing.T) {
	c := newCLI(t, mockbackend.Options{})
	photo := c.writeFile("me.png", pngData(t))

	_, stderr, err := c.run("",
		"register", "provider",
		"--name", "Sita Rai",
		"--email", "sita@example.com",
		"--phone", "9811111111",
		"--sex", "Female",
		"--password", "Str0ng!pass",
		"--confirm-password", "Str0ng!pass",
		"--photo", photo,
		"--service", "Plumber",
	)
	require.Error(t, err)
	assert.Contains(t, stderr, "Step 2 of 4 is incomplete")
	assert.Contains(t, stderr, "experience: Experience required")
	assert.Empty(t, c.srv.Requests("register"))
}

func TestRegisterProvider_InvalidChoice(t *testing.T) {
	c := newCLI(t, mockbackend.Options{})
	_, _, err := c.run("", "register", "provider", "--service", "Astronaut")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--service")
}

func TestLogin_Errors(t *testing.T) {
	c := newCLI(t, mockbackend.Options{})

	_, _, err := c.run("", "login", "--email", "nobody@example.com", "--password", "Abcdef1!")
	require.Error(t, err)
	assert.Equal(t, "User not found. Please register first.", err.Error())

	_, _, err = c.run("", append(customerArgs, "--no-verify")...)
	require.NoError(t, err)
	_, _, err = c.run("Abcdef1!\n", "login", "--email", "anish@example.com", "--password-stdin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Email not verified")

	_, stderr, err := c.run("", "login", "--email", "not-an-email", "--password", "short")
	require.Error(t, err)
	assert.Contains(t, stderr, "Please enter a valid email")
	assert.Contains(t, stderr, "Password must be at least 8 characters")
}

func TestLocations(t *testing.T) {
	c := newCLI(t, mockbackend.Options{})

	stdout, _, err := c.run("", "locations")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Bagmati\n")

	stdout, _, err = c.run("", "locations", "Bagmati", "Kathmandu")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Kirtipur Municipality\n")

	_, _, err = c.run("", "locations", "Atlantis")
	assert.EqualError(t, err, "unknown location: Atlantis")

	stdout, _, err = c.run("", "locations", "--services")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "Plumber\n"))
}

func TestConfigInitAndShow(t *testing.T) {
	c := newCLI(t, mockbackend.Options{})
	path := filepath.Join(c.dir, "fresh", "proconnect.yaml")

	stdout, _, err := c.run("", "config", "init", "--path", path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", stdout)

	_, _, err = c.run("", "config", "init", "--path", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = c.run("", "config", "init", "--path", path, "--force")
	require.NoError(t, err)

	stdout, _, err = c.run("", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "base_url: "+c.baseURL)
}

func TestVersion(t *testing.T) {
	c := newCLI(t, mockbackend.Options{})
	stdout, _, err := c.run("", "version")
	require.NoError(t, err)
	assert.Equal(t, "proconnect version 1.2.3 (build: test)\n", stdout)
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.jpg", "sub/c.jpg", "sub/d.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	got, err := expandPaths([]string{filepath.Join(dir, "**", "*.jpg"), filepath.Join(dir, "a.jpg")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.jpg"),
		filepath.Join(dir, "sub", "c.jpg"),
	}, got, "sorted matches, duplicates dropped")

	_, err = expandPaths([]string{filepath.Join(dir, "*.png")})
	assert.ErrorContains(t, err, "no files match pattern")

	_, err = expandPaths([]string{filepath.Join(dir, "missing.jpg")})
	assert.Error(t, err)

	_, err = expandPaths([]string{filepath.Join(dir, "sub")})
	assert.ErrorContains(t, err, "is a directory")

	got, err = expandPaths(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
