package tokens

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestService(store Store) (*Service, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(store, 10*time.Minute).WithClock(c.now), c
}

func TestCheck(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	consumed := created.Add(time.Minute)
	ttl := 5 * time.Minute
	tests := []struct {
		name string
		rec  *Record
		user int64
		now  time.Time
		want error
	}{
		{"missing", nil, 1, created, ErrNotFound},
		{"owner", &Record{UserID: 2, CreatedAt: created}, 1, created, ErrOwnerMismatch},
		{"fresh", &Record{UserID: 1, CreatedAt: created}, 1, created.Add(time.Minute), nil},
		{"at boundary", &Record{UserID: 1, CreatedAt: created}, 1, created.Add(ttl), ErrExpired},
		{"expired", &Record{UserID: 1, CreatedAt: created}, 1, created.Add(time.Hour), ErrExpired},
		{"consumed", &Record{UserID: 1, CreatedAt: created, ConsumedAt: &consumed}, 1, created.Add(2 * time.Minute), ErrConsumed},
		{"expired wins over consumed", &Record{UserID: 1, CreatedAt: created, ConsumedAt: &consumed}, 1, created.Add(time.Hour), ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Check(tt.rec, tt.user, tt.now, ttl); got != tt.want {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreateTokenFormat(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore(10 * time.Minute))
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := svc.CreateToken(context.Background(), 7, "ab12cd34", 1, "720p")
		if err != nil {
			t.Fatal(err)
		}
		b, err := base64.RawURLEncoding.Strict().DecodeString(tok)
		if err != nil || len(b) != tokenBytes {
			t.Fatalf("token %q: %d bytes, err %v", tok, len(b), err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestVerifyToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(NewMemoryStore(10 * time.Minute))
	tok, err := svc.CreateToken(ctx, 42, "ab12cd34", 0, "1080p")
	if err != nil {
		t.Fatal(err)
	}
	rec, err := svc.VerifyToken(ctx, tok, 42)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if rec.MovieCode != "ab12cd34" || rec.Part != 1 || rec.Quality != "1080p" || rec.UserID != 42 {
		t.Errorf("unexpected record %+v", rec)
	}
	if _, err := svc.VerifyToken(ctx, tok, 42); !errors.Is(err, ErrConsumed) {
		t.Errorf("second VerifyToken err = %v, want ErrConsumed", err)
	}
}

func TestVerifyTokenOtherUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(NewMemoryStore(10 * time.Minute))
	tok, _ := svc.CreateToken(ctx, 1, "ab12cd34", 1, "720p")
	if _, err := svc.VerifyToken(ctx, tok, 2); !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("err = %v, want ErrOwnerMismatch", err)
	}
	// the failed attempt must not burn the owner's token
	if _, err := svc.VerifyToken(ctx, tok, 1); err != nil {
		t.Fatalf("owner VerifyToken: %v", err)
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	ctx := context.Background()
	svc, c := newTestService(NewMemoryStore(10 * time.Minute))
	tok, _ := svc.CreateToken(ctx, 1, "ab12cd34", 1, "720p")
	c.advance(11 * time.Minute)
	if _, err := svc.VerifyToken(ctx, tok, 1); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestVerifyTokenUnknown(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore(10 * time.Minute))
	for _, tok := range []string{"", "nope"} {
		if _, err := svc.VerifyToken(context.Background(), tok, 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("VerifyToken(%q) err = %v, want ErrNotFound", tok, err)
		}
	}
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(NewMemoryStore(10 * time.Minute))
	tok, _ := svc.CreateToken(ctx, 1, "ab12cd34", 1, "720p")
	if _, err := svc.VerifyToken(ctx, tok, 1); err != nil {
		t.Fatal(err)
	}
	if err := svc.Release(ctx, tok); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyToken(ctx, tok, 1); err != nil {
		t.Fatalf("VerifyToken after Release: %v", err)
	}
}

func TestConcurrentRedemption(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(NewMemoryStore(10 * time.Minute))
	tok, _ := svc.CreateToken(ctx, 5, "ab12cd34", 1, "720p")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.VerifyToken(ctx, tok, 5); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("%d redemptions succeeded, want 1", wins.Load())
	}
}

func TestIsCredentialError(t *testing.T) {
	for _, err := range []error{ErrNotFound, ErrOwnerMismatch, ErrExpired, ErrConsumed} {
		if !IsCredentialError(err) {
			t.Errorf("IsCredentialError(%v) = false", err)
		}
	}
	if IsCredentialError(errors.New("connection refused")) {
		t.Error("storage error classified as credential error")
	}
}

func TestMemoryStoreSweepsOldRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10 * time.Minute)
	svc, c := newTestService(store)
	old, _ := svc.CreateToken(ctx, 1, "ab12cd34", 1, "720p")

	c.advance(15 * time.Minute)
	if _, err := svc.CreateToken(ctx, 1, "ab12cd34", 1, "720p"); err != nil {
		t.Fatal(err)
	}
	// Still inside the keep window: the old link reads as expired.
	if _, err := svc.VerifyToken(ctx, old, 1); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}

	c.advance(10 * time.Minute)
	if _, err := svc.CreateToken(ctx, 1, "ab12cd34", 1, "720p"); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 2 {
		t.Errorf("Len = %d, want 2 after the sweep", store.Len())
	}
	if _, err := svc.VerifyToken(ctx, old, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func newMiniRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, 10*time.Minute)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	svc, c := newTestService(newMiniRedisStore(t))
	tok, err := svc.CreateToken(ctx, 9, "ab12cd34", 2, "720p")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyToken(ctx, tok, 10); !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("other user err = %v", err)
	}
	rec, err := svc.VerifyToken(ctx, tok, 9)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Part != 2 || rec.Quality != "720p" || rec.MovieCode != "ab12cd34" || rec.ConsumedAt == nil {
		t.Errorf("unexpected record %+v", rec)
	}
	if _, err := svc.VerifyToken(ctx, tok, 9); !errors.Is(err, ErrConsumed) {
		t.Fatalf("reuse err = %v", err)
	}
	if err := svc.Release(ctx, tok); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyToken(ctx, tok, 9); err != nil {
		t.Fatalf("VerifyToken after Release: %v", err)
	}

	if _, err := svc.VerifyToken(ctx, "missing", 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown err = %v", err)
	}

	tok2, _ := svc.CreateToken(ctx, 9, "ab12cd34", 1, "720p")
	c.advance(time.Hour)
	if _, err := svc.VerifyToken(ctx, tok2, 9); !errors.Is(err, ErrExpired) {
		t.Fatalf("expired err = %v", err)
	}
}

func TestRedisStoreConcurrentRedemption(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(newMiniRedisStore(t))
	tok, err := svc.CreateToken(ctx, 5, "ab12cd34", 1, "720p")
	if err != nil {
		t.Fatal(err)
	}

	var wins, consumed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.VerifyToken(ctx, tok, 5)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrConsumed):
				consumed.Add(1)
			default:
				t.Errorf("VerifyToken: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || consumed.Load() != 15 {
		t.Fatalf("wins = %d, consumed = %d, want 1 and 15", wins.Load(), consumed.Load())
	}
}
