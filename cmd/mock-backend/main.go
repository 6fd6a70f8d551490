// Package main runs the in-memory Pro-Connect backend for local development
// and end-to-end tests.
//
// Usage:
//
//	mock-backend -port 5000 [-email-failure] [-return-400-on-success]
//
// Codes are logged unless SMTP is configured through MOCK_SMTP_HOST,
// MOCK_SMTP_PORT, MOCK_SMTP_USER, MOCK_SMTP_PASS and MOCK_SMTP_FROM. The
// current code of an account is available at GET /_test/otp?email=...&variant=...
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/c360studio/proconnect/mockbackend"
)

func main() {
	port := flag.Int("port", 5000, "port to listen on")
	emailFailure := flag.Bool("email-failure", false, "answer registrations with a 500 OTP email failure")
	soft400 := flag.Bool("return-400-on-success", false, "answer successful registrations with 400 \"OTP sent to email\"")
	resendInterval := flag.Duration("resend-interval", mockbackend.DefaultResendInterval, "minimum time between OTP resends per account (negative disables)")
	debug := flag.Bool("debug", false, "log every request")
	flag.Parse()

	_ = godotenv.Load()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	gin.SetMode(gin.ReleaseMode)

	// Allow env var override
	if envPort := os.Getenv("MOCK_BACKEND_PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			*port = p
		}
	}

	mailer, err := mailerFromEnv(logger)
	if err != nil {
		logger.Error("Invalid SMTP configuration", "error", err)
		os.Exit(1)
	}

	srv := mockbackend.New(mockbackend.Options{
		EmailFailure:       *emailFailure,
		Return400OnSuccess: *soft400,
		ResendInterval:     *resendInterval,
		JWTSecret:          []byte(os.Getenv("MOCK_JWT_SECRET")),
		Mailer:             mailer,
		Logger:             logger,
	})

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Mock backend listening", "addr", addr, "base_url", fmt.Sprintf("http://localhost%s/api", addr))
	server := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func mailerFromEnv(logger *slog.Logger) (mockbackend.Mailer, error) {
	host := os.Getenv("MOCK_SMTP_HOST")
	if host == "" {
		return mockbackend.LogMailer{Logger: logger}, nil
	}
	port := 587
	if p := os.Getenv("MOCK_SMTP_PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("MOCK_SMTP_PORT: %w", err)
		}
		port = n
	}
	return mockbackend.NewSMTPMailer(mockbackend.SMTPConfig{
		Host:     host,
		Port:     port,
		Username: os.Getenv("MOCK_SMTP_USER"),
		Password: os.Getenv("MOCK_SMTP_PASS"),
		From:     os.Getenv("MOCK_SMTP_FROM"),
	}), nil
}
