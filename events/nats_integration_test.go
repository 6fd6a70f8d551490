//go:build integration

package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSPublisher_Integration(t *testing.T) {
	url := os.Getenv("PROCONNECT_TEST_NATS_URL")
	if url == "" {
		t.Skip("PROCONNECT_TEST_NATS_URL not set")
	}

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	s, err := sub.ChanSubscribe("proconnect-test.>", msgs)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	p, err := ConnectNATS(url, "proconnect-test")
	require.NoError(t, err)

	sent := New(RegistrationSubmitted, "customer", "a***@example.com", "otp_sent")
	require.NoError(t, p.Publish(context.Background(), sent))
	require.NoError(t, p.Close())

	select {
	case msg := <-msgs:
		assert.Equal(t, "proconnect-test.registration.submitted", msg.Subject)
		var got Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "otp_sent", got.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}
