package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/proconnect/auth"
	"github.com/c360studio/proconnect/backend"
	"github.com/c360studio/proconnect/events"
	"github.com/c360studio/proconnect/metrics"
	"github.com/c360studio/proconnect/otp"
	"github.com/c360studio/proconnect/registration"
)

func parseVariant(s string) (registration.Variant, error) {
	switch v := registration.Variant(s); v {
	case registration.VariantCustomer, registration.VariantProvider:
		return v, nil
	}
	return "", fmt.Errorf("--variant must be customer or provider: %q", s)
}

func newVerifyCmd(g *globals) *cobra.Command {
	var variant, email, code string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an email address with the code that was sent to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVariant(variant)
			if err != nil {
				return err
			}
			if !otpCode(code) {
				return errors.New(otp.MsgIncomplete)
			}
			email = registration.NormalizeEmail(email)
			return g.withApp(cmd, func(ctx context.Context, app *App) error {
				resp, err := app.client.VerifyOTP(ctx, v, email, code)
				if err != nil {
					app.metrics.ObserveOTP(string(v), metrics.OTPRejected)
					msg := otp.VerifyFailureMessage(resp, err)
					if backend.IsStatus(err, 400, 404) {
						return errors.New(msg)
					}
					return fmt.Errorf("%s: %w", msg, err)
				}
				app.metrics.ObserveOTP(string(v), metrics.OTPVerified)
				publish(ctx, app, events.New(events.OTPVerified, string(v), auth.MaskEmail(email), metrics.OTPVerified))
				fmt.Fprintln(cmd.OutOrStdout(), otp.MsgVerified)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&variant, "variant", string(registration.VariantCustomer), "customer or provider")
	cmd.Flags().StringVar(&email, "email", "", "Email address the code was sent to")
	cmd.Flags().StringVar(&code, "code", "", "6-digit code")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func newResendCmd(g *globals) *cobra.Command {
	var variant, email string
	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Send a new verification code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVariant(variant)
			if err != nil {
				return err
			}
			email = registration.NormalizeEmail(email)
			return g.withApp(cmd, func(ctx context.Context, app *App) error {
				if _, err := app.client.ResendOTP(ctx, v, email); err != nil {
					app.metrics.ObserveOTP(string(v), metrics.OTPResendFailed)
					return fmt.Errorf("%s: %w", otp.MsgResendFailed, err)
				}
				app.metrics.ObserveOTP(string(v), metrics.OTPResent)
				publish(ctx, app, events.New(events.OTPResent, string(v), auth.MaskEmail(email), metrics.OTPResent))
				fmt.Fprintln(cmd.OutOrStdout(), otp.MsgResent)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&variant, "variant", string(registration.VariantCustomer), "customer or provider")
	cmd.Flags().StringVar(&email, "email", "", "Email address to send the code to")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func otpCode(s string) bool {
	if len(s) != otp.CodeLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func publish(ctx context.Context, app *App, e events.Event) {
	if err := app.publisher.Publish(ctx, e); err != nil {
		app.logger.Warn("Failed to publish event", "type", e.Type, "error", err)
	}
}
