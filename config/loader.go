package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "proconnect.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/proconnect"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// SessionFile is the default file store location inside UserConfigDir
	SessionFile = "session.yaml"
	// EnvFile is the dotenv file read from the working directory
	EnvFile = ".env"
)

// Environment variables that override file configuration.
const (
	EnvAPIBase      = "PROCONNECT_API_BASE"
	EnvSessionStore = "PROCONNECT_SESSION_STORE"
	EnvRedisAddr    = "PROCONNECT_REDIS_ADDR"
	EnvRedisDB      = "PROCONNECT_REDIS_DB"
	EnvNATSURL      = "PROCONNECT_NATS_URL"
	EnvMetricsFile  = "PROCONNECT_METRICS_TEXTFILE"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger  *slog.Logger
	workDir string
	homeDir string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger}
	if cwd, err := os.Getwd(); err == nil {
		l.workDir = cwd
	}
	if home, err := os.UserHomeDir(); err == nil {
		l.homeDir = home
	}
	return l
}

// WithDirs overrides the working and home directories the loader searches.
func (l *Loader) WithDirs(workDir, homeDir string) *Loader {
	l.workDir = workDir
	l.homeDir = homeDir
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/proconnect/config.yaml)
// 3. Project config (proconnect.yaml in current or parent directories)
// 4. .env file in the working directory
// 5. Environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.UserConfigPath()
	if userConfigPath != "" {
		if userConfig, err := loadLayer(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := loadLayer(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	l.loadDotEnv()
	l.applyEnv(config)

	if config.Session.Store == StoreFile && config.Session.File == "" && l.homeDir != "" {
		config.Session.File = filepath.Join(l.homeDir, UserConfigDir, SessionFile)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() (string, error) {
	userConfigPath := l.UserConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return userConfigPath, nil
	}

	if err := DefaultConfig().SaveToFile(userConfigPath); err != nil {
		return "", err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return userConfigPath, nil
}

// UserConfigPath returns the path to the user config file
func (l *Loader) UserConfigPath() string {
	if l.homeDir == "" {
		return ""
	}
	return filepath.Join(l.homeDir, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for proconnect.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	if l.workDir == "" {
		return ""
	}

	dir := l.workDir
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// loadDotEnv reads .env without overriding variables already set in the process.
func (l *Loader) loadDotEnv() {
	if l.workDir == "" {
		return
	}
	path := filepath.Join(l.workDir, EnvFile)
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		l.logger.Warn("Failed to load .env", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	l.logger.Debug("Loaded .env", slog.String("path", path))
}

func (l *Loader) applyEnv(config *Config) {
	if v := os.Getenv(EnvAPIBase); v != "" {
		config.API.BaseURL = v
	}
	if v := os.Getenv(EnvSessionStore); v != "" {
		config.Session.Store = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		config.Session.RedisAddr = v
	}
	if v := os.Getenv(EnvRedisDB); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			config.Session.RedisDB = db
		} else {
			l.logger.Warn("Ignoring invalid redis db", slog.String("value", v))
		}
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		config.Session.NATSURL = v
		config.Events.NATSURL = v
	}
	if v := os.Getenv(EnvMetricsFile); v != "" {
		config.Metrics.Textfile = v
	}
}
