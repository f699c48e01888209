package limiter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/admitkit/admit/store"
)

// redisLimiter builds a limiter against a local Redis, skipping the test
// when none is reachable.
func redisLimiter(t *testing.T, alg string, max int, window time.Duration) *Limiter {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping integration test: redis not available (%v)", err)
	}
	t.Cleanup(func() { client.Close() })

	l, err := New(Config{
		Algorithm: alg,
		Window:    window,
		Max:       max,
		KeyFunc:   testKeyFunc,
		Store:     store.NewRedis(client),
		Prefix:    "admit-test:",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l
}

func freshKey(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestIntegrationTokenBucketBurst(t *testing.T) {
	l := redisLimiter(t, TokenBucket, 5, time.Minute)
	ctx := context.Background()
	key := freshKey(t)

	for i := 0; i < 5; i++ {
		d, err := l.AllowKey(ctx, key)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be admitted", i)
		}
		if d.Remaining != 4-i {
			t.Errorf("request %d: expected %d remaining, got %d", i, 4-i, d.Remaining)
		}
	}

	d, err := l.AllowKey(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Error("request past capacity should be rejected")
	}
	if d.RetryAfter <= 0 {
		t.Error("rejection should carry a retry hint")
	}
}

func TestIntegrationTokenBucketRefill(t *testing.T) {
	l := redisLimiter(t, TokenBucket, 2, 400*time.Millisecond)
	ctx := context.Background()
	key := freshKey(t)

	for i := 0; i < 2; i++ {
		if d, _ := l.AllowKey(ctx, key); !d.Allowed {
			t.Fatalf("request %d should be admitted", i)
		}
	}
	if d, _ := l.AllowKey(ctx, key); d.Allowed {
		t.Fatal("exhausted bucket should reject")
	}

	time.Sleep(450 * time.Millisecond)

	d, err := l.AllowKey(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("request after a full window should be admitted")
	}
	if d.Remaining != 1 {
		t.Errorf("refilled bucket should report max-1 remaining, got %d", d.Remaining)
	}
}

func TestIntegrationFixedWindowBoundary(t *testing.T) {
	l := redisLimiter(t, FixedWindow, 3, 400*time.Millisecond)
	ctx := context.Background()
	key := freshKey(t)

	for i := 0; i < 3; i++ {
		if d, err := l.AllowKey(ctx, key); err != nil || !d.Allowed {
			t.Fatalf("request %d should be admitted (err=%v)", i, err)
		}
	}

	d, err := l.AllowKey(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Error("request over quota inside the window should be rejected")
	}
	if d.Remaining != -1 {
		t.Errorf("over-limit remaining should be -1, got %d", d.Remaining)
	}

	time.Sleep(450 * time.Millisecond)

	if d, _ := l.AllowKey(ctx, key); !d.Allowed {
		t.Error("first request after the window boundary should be admitted regardless of prior count")
	}
}

func TestIntegrationSlidingWindowScenario(t *testing.T) {
	// max=10, window=60s: 10 requests inside a second all pass, the 11th
	// inside the same window is rejected with the configured message.
	l := redisLimiter(t, SlidingWindow, 10, time.Minute)
	ctx := context.Background()
	key := freshKey(t)

	for i := 0; i < 10; i++ {
		d, err := l.AllowKey(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be admitted", i)
		}
		if d.Limit != 10 {
			t.Errorf("limit metadata should be 10, got %d", d.Limit)
		}
	}

	d, err := l.AllowKey(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Error("11th request in the window should be rejected")
	}
	if d.Message != DefaultMessage {
		t.Errorf("rejection should carry the message, got %q", d.Message)
	}
}

func TestIntegrationSlidingWindowSlides(t *testing.T) {
	l := redisLimiter(t, SlidingWindow, 2, 500*time.Millisecond)
	ctx := context.Background()
	key := freshKey(t)

	for i := 0; i < 2; i++ {
		if d, _ := l.AllowKey(ctx, key); !d.Allowed {
			t.Fatalf("request %d should be admitted", i)
		}
	}
	if d, _ := l.AllowKey(ctx, key); d.Allowed {
		t.Fatal("third request inside the window should be rejected")
	}

	time.Sleep(600 * time.Millisecond)

	if d, _ := l.AllowKey(ctx, key); !d.Allowed {
		t.Error("admission should resume once earlier requests leave the window")
	}
}

func TestIntegrationSlidingLog(t *testing.T) {
	l := redisLimiter(t, SlidingLog, 3, 500*time.Millisecond)
	ctx := context.Background()
	key := freshKey(t)

	for i := 0; i < 3; i++ {
		if d, _ := l.AllowKey(ctx, key); !d.Allowed {
			t.Fatalf("request %d should be admitted", i)
		}
	}
	if d, _ := l.AllowKey(ctx, key); d.Allowed {
		t.Fatal("request over quota should be rejected")
	}

	time.Sleep(600 * time.Millisecond)

	if d, _ := l.AllowKey(ctx, key); !d.Allowed {
		t.Error("admission should resume once logged requests expire")
	}
}

func TestIntegrationLeakyBucketPacing(t *testing.T) {
	l := redisLimiter(t, LeakyBucket, 2, 200*time.Millisecond)
	ctx := context.Background()

	// Rapid fire past capacity is rejected.
	burst := freshKey(t) + "-burst"
	for i := 0; i < 2; i++ {
		if d, _ := l.AllowKey(ctx, burst); !d.Allowed {
			t.Fatalf("request %d should be admitted", i)
		}
	}
	if d, _ := l.AllowKey(ctx, burst); d.Allowed {
		t.Error("request past accumulated tokens should be rejected")
	}

	// Requests paced at the leak rate (1 per 100ms) are never rejected.
	paced := freshKey(t) + "-paced"
	for i := 0; i < 4; i++ {
		d, err := l.AllowKey(ctx, paced)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("paced request %d should never be rejected", i)
		}
		time.Sleep(120 * time.Millisecond)
	}
}

func TestIntegrationConcurrentExactAdmission(t *testing.T) {
	const workers = 20
	const max = 5

	for _, alg := range []string{TokenBucket, FixedWindow, SlidingWindow, LeakyBucket, SlidingLog} {
		t.Run(alg, func(t *testing.T) {
			l := redisLimiter(t, alg, max, time.Minute)
			ctx := context.Background()
			key := freshKey(t)

			var wg sync.WaitGroup
			var mu sync.Mutex
			admitted := 0

			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := l.AllowKey(ctx, key)
					if err != nil {
						t.Errorf("concurrent request failed: %v", err)
						return
					}
					if d.Allowed {
						mu.Lock()
						admitted++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if admitted != max {
				t.Errorf("expected exactly %d admissions out of %d, got %d", max, workers, admitted)
			}
		})
	}
}

func TestIntegrationResetFreshStart(t *testing.T) {
	l := redisLimiter(t, TokenBucket, 3, time.Minute)
	ctx := context.Background()
	key := freshKey(t)

	for i := 0; i < 3; i++ {
		l.AllowKey(ctx, key)
	}
	if d, _ := l.AllowKey(ctx, key); d.Allowed {
		t.Fatal("bucket should be exhausted")
	}

	if err := l.Reset(ctx, key); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	d, err := l.AllowKey(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("request after reset should behave like the first on a fresh key")
	}
	if d.Remaining != 2 {
		t.Errorf("expected max-1 remaining after reset, got %d", d.Remaining)
	}
}

func TestIntegrationPeekDoesNotConsume(t *testing.T) {
	l := redisLimiter(t, SlidingWindow, 10, time.Minute)
	ctx := context.Background()
	key := freshKey(t)

	for i := 0; i < 3; i++ {
		l.AllowKey(ctx, key)
	}

	for i := 0; i < 2; i++ {
		d, err := l.Peek(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if d.Remaining != 7 {
			t.Errorf("Peek %d: expected 7 remaining, got %d", i, d.Remaining)
		}
	}

	d, _ := l.AllowKey(ctx, key)
	if d.Remaining != 6 {
		t.Errorf("Allow after Peek should see 6 remaining, got %d", d.Remaining)
	}
}
