package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes events as JSON on core NATS subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	closed bool
	mu     sync.Mutex
}

// NewNATSPublisher wraps an existing connection. Close flushes it but leaves it open.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// ConnectNATS dials natsURL and returns a publisher that owns the connection.
func ConnectNATS(natsURL, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("proconnect-events"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p := NewNATSPublisher(nc, prefix)
	p.owned = true
	return p, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish implements Publisher.
// NATS Publish does not take a context, so the context is only checked up front.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(e.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Close flushes pending messages and closes an owned connection.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.nc.FlushTimeout(2 * time.Second); err != nil && p.nc.IsConnected() {
		return fmt.Errorf("flush events: %w", err)
	}
	if p.owned {
		p.nc.Close()
	}
	return nil
}
