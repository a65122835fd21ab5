package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alanyoungcy/polygraph/internal/config"
	"github.com/alanyoungcy/polygraph/internal/domain"
)

func TestKeys(t *testing.T) {
	if got := lockKey("poller:cycle"); got != "lock:poller:cycle" {
		t.Errorf("lockKey() = %q", got)
	}
	if got := rateLimitKey("api:10.0.0.1"); got != "ratelimit:api:10.0.0.1" {
		t.Errorf("rateLimitKey() = %q", got)
	}
}

// liveClient connects to the Redis named by POLYGRAPH_TEST_REDIS_ADDR, or
// skips the test.
func liveClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("POLYGRAPH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POLYGRAPH_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, config.RedisConfig{Addr: addr, PoolSize: 4, StreamMaxLen: 100})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManagerLive(t *testing.T) {
	c := liveClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()
	key := "test:" + t.Name() + ":" + time.Now().Format(time.RFC3339Nano)

	unlock, err := lm.Acquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := lm.Acquire(ctx, key, time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("second Acquire() error = %v, want ErrLockHeld", err)
	}
	unlock()
	unlock()

	again, err := lm.Acquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Acquire() after unlock error = %v", err)
	}
	again()
}

func TestSignalBusLive(t *testing.T) {
	c := liveClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	channel := "test:signals:" + time.Now().Format("150405.000000")

	msgs, err := bus.Subscribe(ctx, channel)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := bus.Publish(ctx, channel, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case got := <-msgs:
		if string(got) != `{"id":1}` {
			t.Errorf("received %s", got)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	stream := channel + ":log"
	id, err := bus.StreamAppend(ctx, stream, []byte("a"))
	if err != nil {
		t.Fatalf("StreamAppend() error = %v", err)
	}
	got, err := bus.StreamRead(ctx, stream, "0", 10)
	if err != nil {
		t.Fatalf("StreamRead() error = %v", err)
	}
	if len(got) != 1 || string(got[0].Payload) != "a" || got[0].ID != id {
		t.Errorf("StreamRead() = %+v, want one entry %s", got, id)
	}
	if after, err := bus.StreamRead(ctx, stream, id, 10); err != nil || len(after) != 0 {
		t.Errorf("StreamRead(after %s) = %+v, %v; want empty", id, after, err)
	}
	_ = c.Underlying().Del(ctx, stream).Err()
}

func TestRateLimiterLive(t *testing.T) {
	rl := NewRateLimiter(liveClient(t))
	ctx := context.Background()
	key := "test:" + time.Now().Format(time.RFC3339Nano)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("Allow() #%d = %v, %v", i+1, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); ok {
		t.Error("fourth Allow() admitted, want rejected")
	}
}
