package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the KV bucket holding session keys.
const DefaultBucket = "PROCONNECT_SESSION"

// KVStore keeps the session in a NATS JetStream key-value bucket.
type KVStore struct {
	kv jetstream.KeyValue
	nc *nats.Conn
}

// NewKVStore wraps an existing bucket. Close leaves the connection open.
func NewKVStore(kv jetstream.KeyValue) *KVStore {
	return &KVStore{kv: kv}
}

// OpenKVStore connects to natsURL and opens bucket, creating it if needed.
func OpenKVStore(ctx context.Context, natsURL, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	nc, err := nats.Connect(natsURL,
		nats.Name("proconnect-session"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open session bucket: %w", err)
	}
	return &KVStore{kv: kv, nc: nc}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Pro-Connect login session",
		History:     1,
	})
}

func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv get %s: %w", key, err)
	}
	return string(entry.Value()), nil
}

func (s *KVStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.kv.Put(ctx, key, []byte(value)); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Remove(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
