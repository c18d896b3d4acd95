package store

import (
	"context"
	"testing"

	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

const testRedisURL = "redis://localhost:6379/15"

func TestRedisStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewRedisStorage(ctx, testRedisURL, logger.Discard())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer s.Close()

	s.prefix = "greeneval:test:runs:"
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Clear(ctx)

	exerciseStorage(t, s)
}

func TestNewRedisStorage_BadURL(t *testing.T) {
	if _, err := NewRedisStorage(context.Background(), "not-a-url", logger.Discard()); err == nil {
		t.Error("NewRedisStorage(bad url) should fail")
	}
}
