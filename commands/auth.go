package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/proconnect/auth"
)

func newLoginCmd(g *globals) *cobra.Command {
	var (
		variant       string
		email         string
		password      string
		passwordStdin bool
		lat, lon      float64
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and keep the session in the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVariant(variant)
			if err != nil {
				return err
			}
			if passwordStdin {
				if password, err = readLine(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}
			creds := auth.Credentials{Email: email, Password: password}
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
				creds.Latitude, creds.Longitude = &lat, &lon
			}

			return g.withApp(cmd, func(ctx context.Context, app *App) error {
				sess, err := app.auth.Login(ctx, v, creds)
				if err != nil {
					var le *auth.LoginError
					if errors.As(err, &le) {
						return errors.New(le.Message)
					}
					return reportValidation(cmd.ErrOrStderr(), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", sess.User.Name, sess.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "customer", "customer or provider")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude sent with the login")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude sent with the login")
	_ = cmd.MarkFlagRequired("email")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
	cmd.MarkFlagsRequiredTogether("lat", "lon")
	return cmd
}

func newLogoutCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear the stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(ctx context.Context, app *App) error {
				if err := app.auth.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}
}

func newWhoamiCmd(g *globals) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(ctx context.Context, app *App) error {
				out := cmd.OutOrStdout()
				var (
					sess    *auth.Session
					profile map[string]any
					err     error
				)
				if offline {
					sess, err = app.auth.Current(ctx)
				} else {
					sess, profile, err = app.auth.Whoami(ctx)
				}
				if errors.Is(err, auth.ErrNotLoggedIn) {
					return fmt.Errorf("not logged in, run '%s login' first", appName)
				}
				if sess == nil {
					return err
				}

				fmt.Fprintf(out, "Name:  %s\n", sess.User.Name)
				fmt.Fprintf(out, "Email: %s\n", sess.User.Email)
				fmt.Fprintf(out, "Role:  %s\n", sess.Role)
				if !sess.ExpiresAt.IsZero() {
					state := "valid"
					if sess.Expired(time.Now()) {
						state = "expired"
					}
					fmt.Fprintf(out, "Token: %s until %s\n", state, sess.ExpiresAt.Local().Format(time.RFC1123))
				}
				if err != nil {
					return err
				}
				printProfile(out, profile)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Show the stored session without asking the backend")
	return cmd
}

func printProfile(w io.Writer, profile map[string]any) {
	if len(profile) == 0 {
		return
	}
	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "Profile:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, profile[k])
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
