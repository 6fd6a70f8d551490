// Package commands implements the proconnect command line: registration with
// interactive email verification, the OTP calls on their own, login and the
// supporting catalog and config commands.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/proconnect/config"
)

const appName = "proconnect"

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	apiBase    string
}

// NewRootCmd builds the proconnect command tree.
func NewRootCmd(version, buildTime string) *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Pro-Connect registration client",
		Long: `proconnect registers customers and service providers with a Pro-Connect
backend and walks through email verification.

Configuration is layered: built-in defaults, ~/.config/proconnect/config.yaml,
proconnect.yaml in the current or a parent directory, .env and PROCONNECT_*
environment variables.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML); skips the layered lookup")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.apiBase, "api", "", "Backend base URL, overrides api.base_url")

	cmd.AddCommand(
		newRegisterCmd(g),
		newVerifyCmd(g),
		newResendCmd(g),
		newLoginCmd(g),
		newLogoutCmd(g),
		newWhoamiCmd(g),
		newLocationsCmd(g),
		newConfigCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, version, buildTime)
			},
		},
	)
	return cmd
}

// logger builds the stderr text logger for the --log-level flag.
func (g *globals) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(g.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// load resolves the configuration for this invocation.
func (g *globals) load(logger *slog.Logger) (*config.Config, error) {
	var cfg *config.Config
	if g.configPath != "" {
		fileCfg, err := config.LoadFromFile(g.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = config.DefaultConfig()
		cfg.Merge(fileCfg)
	} else {
		loaded, err := config.NewLoader(logger).Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if g.apiBase != "" {
		cfg.API.BaseURL = g.apiBase
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// withApp loads config, opens an App for the duration of fn and closes it.
func (g *globals) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) (err error) {
	logger := g.logger(cmd.ErrOrStderr())
	cfg, err := g.load(logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, app)
}
