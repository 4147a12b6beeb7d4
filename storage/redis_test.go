package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRedisClientRequiresAddr(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), RedisConfig{}); !errors.Is(err, ErrNoAddr) {
		t.Fatalf("expected ErrNoAddr, got %v", err)
	}
}

func TestNewRedisClientUnreachable(t *testing.T) {
	// Port 1 is reserved and never has a listener.
	_, err := NewRedisClient(context.Background(), RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: "localhost:6379", DialTimeout: time.Second})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping after connect: %v", err)
	}
}
