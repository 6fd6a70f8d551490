// Package config provides configuration loading and management for the Pro-Connect client.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreNATS   = "nats"
)

// Config represents the complete client configuration
type Config struct {
	API       APIConfig       `yaml:"api"`
	Session   SessionConfig   `yaml:"session"`
	OTP       OTPConfig       `yaml:"otp"`
	Locations LocationsConfig `yaml:"locations"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// APIConfig configures the backend the client talks to
type APIConfig struct {
	// BaseURL is the backend root, every endpoint path is appended to it
	BaseURL string `yaml:"base_url"`
	// Timeout bounds a single HTTP call
	Timeout time.Duration `yaml:"timeout"`
	// Endpoints overrides individual call paths
	Endpoints Endpoints `yaml:"endpoints"`
}

// Endpoints holds the path of every backend call, relative to the base URL.
type Endpoints struct {
	CustomerRegister string `yaml:"customer_register"`
	CustomerVerify   string `yaml:"customer_verify"`
	CustomerResend   string `yaml:"customer_resend"`
	CustomerLogin    string `yaml:"customer_login"`
	CustomerLogout   string `yaml:"customer_logout"`
	CustomerMe       string `yaml:"customer_me"`
	ProviderRegister string `yaml:"provider_register"`
	ProviderVerify   string `yaml:"provider_verify"`
	ProviderResend   string `yaml:"provider_resend"`
	ProviderLogin    string `yaml:"provider_login"`
	ProviderLogout   string `yaml:"provider_logout"`
	ProviderMe       string `yaml:"provider_me"`
}

// SessionConfig selects where login credentials are kept between invocations
type SessionConfig struct {
	// Store is one of memory, file, redis, nats
	Store string `yaml:"store"`
	// File is the path used by the file store (default: ~/.config/proconnect/session.yaml)
	File string `yaml:"file"`
	// RedisAddr and RedisDB configure the redis store
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	// NATSURL and Bucket configure the NATS KV store
	NATSURL string `yaml:"nats_url"`
	Bucket  string `yaml:"bucket"`
}

// OTPConfig holds the verification timer rules
type OTPConfig struct {
	// Countdown is the code lifetime shown to the user
	Countdown time.Duration `yaml:"countdown"`
	// ResendLock is how long after a send the resend action stays disabled
	ResendLock time.Duration `yaml:"resend_lock"`
	// RedirectDelay is the pause between a verified code and navigation to login
	RedirectDelay time.Duration `yaml:"redirect_delay"`
}

// LocationsConfig points at the province/district/municipality/ward catalog
type LocationsConfig struct {
	// File is a YAML or JSON catalog; empty uses the built-in catalog
	File string `yaml:"file"`
	// Watch reloads the catalog when the file changes
	Watch bool `yaml:"watch"`
}

// EventsConfig configures lifecycle event publishing
type EventsConfig struct {
	// NATSURL enables publishing when set
	NATSURL string `yaml:"nats_url"`
	// SubjectPrefix is prepended to every event subject
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig configures Prometheus metrics export
type MetricsConfig struct {
	// Textfile is written in the Prometheus text format on exit when set
	Textfile string `yaml:"textfile"`
}

// DefaultEndpoints returns the paths the Pro-Connect backend serves.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		CustomerRegister: "/customer/register",
		CustomerVerify:   "/customer/verify-otp",
		CustomerResend:   "/customer/resend-otp",
		CustomerLogin:    "/customer/login",
		CustomerLogout:   "/customer/logout",
		CustomerMe:       "/customer/me",
		ProviderRegister: "/service-provider/sp-register",
		ProviderVerify:   "/service-provider/sp-verify-otp",
		ProviderResend:   "/service-provider/sp-resend-otp",
		ProviderLogin:    "/service-provider/sp-login",
		ProviderLogout:   "/service-provider/sp-logout",
		ProviderMe:       "/service-provider/sp-me",
	}
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "http://localhost:5000/api",
			Timeout:   30 * time.Second,
			Endpoints: DefaultEndpoints(),
		},
		Session: SessionConfig{
			Store:  StoreFile,
			Bucket: "PROCONNECT_SESSION",
		},
		OTP: OTPConfig{
			Countdown:     300 * time.Second,
			ResendLock:    60 * time.Second,
			RedirectDelay: 2 * time.Second,
		},
		Events: EventsConfig{
			SubjectPrefix: "proconnect",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL: %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	switch c.Session.Store {
	case StoreMemory, StoreFile:
	case StoreRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required for the redis store")
		}
	case StoreNATS:
		if c.Session.NATSURL == "" {
			return fmt.Errorf("session.nats_url is required for the nats store")
		}
		if c.Session.Bucket == "" {
			return fmt.Errorf("session.bucket is required for the nats store")
		}
	default:
		return fmt.Errorf("session.store must be one of memory, file, redis, nats: %q", c.Session.Store)
	}
	if c.OTP.Countdown < time.Second {
		return fmt.Errorf("otp.countdown must be at least one second")
	}
	if c.OTP.ResendLock < 0 || c.OTP.ResendLock > c.OTP.Countdown {
		return fmt.Errorf("otp.resend_lock must be between 0 and otp.countdown")
	}
	if c.OTP.RedirectDelay < 0 {
		return fmt.Errorf("otp.redirect_delay must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. Keys the file omits keep
// their defaults.
func LoadFromFile(path string) (*Config, error) {
	return decodeFile(path, DefaultConfig())
}

// loadLayer decodes a file into an empty Config so that Merge only applies the
// keys the file sets.
func loadLayer(path string) (*Config, error) {
	return decodeFile(path, &Config{})
}

func decodeFile(path string, config *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// API
	if other.API.BaseURL != "" {
		c.API.BaseURL = other.API.BaseURL
	}
	if other.API.Timeout != 0 {
		c.API.Timeout = other.API.Timeout
	}
	c.API.Endpoints.merge(other.API.Endpoints)

	// Session
	if other.Session.Store != "" {
		c.Session.Store = other.Session.Store
	}
	if other.Session.File != "" {
		c.Session.File = other.Session.File
	}
	if other.Session.RedisAddr != "" {
		c.Session.RedisAddr = other.Session.RedisAddr
	}
	if other.Session.RedisDB != 0 {
		c.Session.RedisDB = other.Session.RedisDB
	}
	if other.Session.NATSURL != "" {
		c.Session.NATSURL = other.Session.NATSURL
	}
	if other.Session.Bucket != "" {
		c.Session.Bucket = other.Session.Bucket
	}

	// OTP
	if other.OTP.Countdown != 0 {
		c.OTP.Countdown = other.OTP.Countdown
	}
	if other.OTP.ResendLock != 0 {
		c.OTP.ResendLock = other.OTP.ResendLock
	}
	if other.OTP.RedirectDelay != 0 {
		c.OTP.RedirectDelay = other.OTP.RedirectDelay
	}

	// Locations
	if other.Locations.File != "" {
		c.Locations.File = other.Locations.File
	}
	if other.Locations.Watch {
		c.Locations.Watch = true
	}

	// Events
	if other.Events.NATSURL != "" {
		c.Events.NATSURL = other.Events.NATSURL
	}
	if other.Events.SubjectPrefix != "" {
		c.Events.SubjectPrefix = other.Events.SubjectPrefix
	}

	// Metrics
	if other.Metrics.Textfile != "" {
		c.Metrics.Textfile = other.Metrics.Textfile
	}
}

func (e *Endpoints) merge(other Endpoints) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&e.CustomerRegister, other.CustomerRegister)
	set(&e.CustomerVerify, other.CustomerVerify)
	set(&e.CustomerResend, other.CustomerResend)
	set(&e.CustomerLogin, other.CustomerLogin)
	set(&e.CustomerLogout, other.CustomerLogout)
	set(&e.CustomerMe, other.CustomerMe)
	set(&e.ProviderRegister, other.ProviderRegister)
	set(&e.ProviderVerify, other.ProviderVerify)
	set(&e.ProviderResend, other.ProviderResend)
	set(&e.ProviderLogin, other.ProviderLogin)
	set(&e.ProviderLogout, other.ProviderLogout)
	set(&e.ProviderMe, other.ProviderMe)
}

// VariantProvider selects the service provider paths in the Endpoints accessors;
// any other variant gets the customer paths.
const VariantProvider = "provider"

func pick(variant, customer, provider string) string {
	if variant == VariantProvider {
		return provider
	}
	return customer
}

// Register returns the registration path of a variant.
func (e Endpoints) Register(variant string) string {
	return pick(variant, e.CustomerRegister, e.ProviderRegister)
}

// Verify returns the OTP verification path of a variant.
func (e Endpoints) Verify(variant string) string {
	return pick(variant, e.CustomerVerify, e.ProviderVerify)
}

// Resend returns the OTP resend path of a variant.
func (e Endpoints) Resend(variant string) string {
	return pick(variant, e.CustomerResend, e.ProviderResend)
}

// Login returns the login path of a variant.
func (e Endpoints) Login(variant string) string {
	return pick(variant, e.CustomerLogin, e.ProviderLogin)
}

// Logout returns the logout path of a variant.
func (e Endpoints) Logout(variant string) string {
	return pick(variant, e.CustomerLogout, e.ProviderLogout)
}

// Me returns the profile path of a variant.
func (e Endpoints) Me(variant string) string {
	return pick(variant, e.CustomerMe, e.ProviderMe)
}
