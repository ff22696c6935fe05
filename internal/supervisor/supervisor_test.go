package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"

	"movielinks-tg-bot/internal/bot"
	"movielinks-tg-bot/internal/tg"
)

type fakeSource struct {
	mu          sync.Mutex
	batches     [][]json.RawMessage
	offsets     []int
	dropPending []bool
}

func (s *fakeSource) GetUpdates(ctx context.Context, offset int, _ time.Duration) ([]json.RawMessage, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	if len(s.batches) > 0 {
		b := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offsets)
}

func (s *fakeSource) DeleteWebhook(_ context.Context, dropPending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPending = append(s.dropPending, dropPending)
	return nil
}

type countingHandler struct {
	handled  atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (h *countingHandler) HandleUpdate(_ context.Context, upd tg.Update) bot.State {
	n := h.inFlight.Add(1)
	defer h.inFlight.Add(-1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	h.handled.Add(1)
	time.Sleep(20 * time.Millisecond)
	if upd.UpdateID == 3 {
		panic("boom")
	}
	return bot.Ignored
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestPollerDispatchesAndAdvancesOffset(t *testing.T) {
	src := &fakeSource{batches: [][]json.RawMessage{
		{raw(`{"update_id":1}`), raw(`{"update_id":2}`), raw(`{"update_id":3}`)},
		{raw(`{"update_id":4}`), raw(`{"update_id":5,"message":"not an object"}`)},
	}}
	h := &countingHandler{}
	p := NewPoller(src, h, PollerConfig{Workers: 2, DropPending: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for (h.handled.Load() < 4 || src.calls() < 3) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if got := h.handled.Load(); got != 4 {
		t.Errorf("handled = %d, want 4", got)
	}
	if peak := h.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	want := []int{0, 4, 6}
	if len(src.offsets) != len(want) {
		t.Fatalf("offsets = %v, want %v", src.offsets, want)
	}
	for i := range want {
		if src.offsets[i] != want[i] {
			t.Errorf("offsets = %v, want %v", src.offsets, want)
			break
		}
	}
	if len(src.dropPending) != 1 || !src.dropPending[0] {
		t.Errorf("deleteWebhook calls = %v", src.dropPending)
	}
}

func TestNewPollerDefaults(t *testing.T) {
	p := NewPoller(&fakeSource{}, &countingHandler{}, PollerConfig{})
	if p.cfg.Workers != 16 || p.cfg.PollTimeout != 30*time.Second || p.cfg.RetryDelay != 2*time.Second {
		t.Errorf("cfg = %+v", p.cfg)
	}
}

type mockHTTPServer struct {
	listenErr error
	stopCh    chan struct{}
	shutdowns atomic.Int32
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{stopCh: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stopCh)
	return nil
}

func TestHTTPServerService(t *testing.T) {
	var _ suture.Service = (*HTTPServerService)(nil)
	var _ suture.Service = (*Poller)(nil)

	t.Run("shuts down on cancel", func(t *testing.T) {
		srv := newMockHTTPServer()
		svc := NewHTTPServerService(srv, time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()
		time.Sleep(10 * time.Millisecond)
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v", err)
		}
		if srv.shutdowns.Load() != 1 {
			t.Errorf("shutdowns = %d", srv.shutdowns.Load())
		}
	})

	t.Run("reports listen failure", func(t *testing.T) {
		srv := newMockHTTPServer()
		srv.listenErr = errors.New("address already in use")
		err := NewHTTPServerService(srv, 0).Serve(context.Background())
		if err == nil || srv.shutdowns.Load() != 0 {
			t.Errorf("Serve = %v, shutdowns = %d", err, srv.shutdowns.Load())
		}
	})
}

func TestTreeRunsServices(t *testing.T) {
	tree := NewTree(TreeConfig{ShutdownTimeout: time.Second})
	srv := newMockHTTPServer()
	tree.AddAPIService(NewHTTPServerService(srv, time.Second))
	tree.AddUpdateService(NewPoller(&fakeSource{}, &countingHandler{}, PollerConfig{}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	if srv.shutdowns.Load() != 1 {
		t.Errorf("http server shutdowns = %d, want 1", srv.shutdowns.Load())
	}
}
