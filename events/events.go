// Package events publishes registration lifecycle events so other services can
// follow sign-ups without polling the backend.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types. The subject of an event is the configured prefix plus its type.
const (
	RegistrationSubmitted = "registration.submitted"
	RegistrationOTPOpened = "registration.otp_opened"
	OTPVerified           = "otp.verified"
	OTPResent             = "otp.resent"
	OTPClosed             = "otp.closed"
)

// Event is one lifecycle notification. Email is always masked.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Variant   string    `json:"variant"`
	Email     string    `json:"email,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds an event with a fresh id and the current time.
func New(eventType, variant, maskedEmail, outcome string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Variant:   variant,
		Email:     maskedEmail,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers events. Publishing is best effort: callers log failures
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the type of every published event, in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
