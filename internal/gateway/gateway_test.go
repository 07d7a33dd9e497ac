package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nextlevelbuilder/threadrun/internal/config"
	"github.com/nextlevelbuilder/threadrun/internal/observability"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if !rl.Enabled() {
		t.Fatal("limiter disabled")
	}
	for i := 0; i < 2; i++ {
		if !rl.Allow("org-1") {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	if rl.Allow("org-1") {
		t.Error("request beyond burst allowed")
	}
	if !rl.Allow("org-2") {
		t.Error("other organization rejected")
	}

	off := NewRateLimiter(0, 5)
	for i := 0; i < 100; i++ {
		if !off.Allow("org-1") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestRateLimiterForgetsIdleKeys(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60, 1)
	rl.now = func() time.Time { return now }

	for _, org := range []string{"org-1", "org-2", "org-3"} {
		rl.Allow(org)
	}
	if rl.Allow("org-1") {
		t.Error("org-1 allowed beyond burst")
	}
	if got := rl.Len(); got != 3 {
		t.Fatalf("tracked keys = %d, want 3", got)
	}

	now = now.Add(limiterIdle + time.Second)
	if !rl.Allow("org-4") {
		t.Error("new organization rejected")
	}
	if got := rl.Len(); got != 1 {
		t.Errorf("tracked keys after idle sweep = %d, want 1", got)
	}
	if !rl.Allow("org-1") {
		t.Error("org-1 still limited after going idle")
	}
}

func TestTrackerWait(t *testing.T) {
	tr := NewTracker(observability.NewMetrics(nil))
	done := tr.Begin()
	if got := tr.InFlight(); got != 1 {
		t.Fatalf("in flight = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tr.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait with a request in flight: err = %v, want deadline exceeded", err)
	}

	done()
	done()
	if got := tr.InFlight(); got != 0 {
		t.Errorf("in flight = %d, want 0", got)
	}
	if err := tr.Wait(context.Background()); err != nil {
		t.Errorf("Wait after done: %v", err)
	}
}

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Gateway.Token = "secret"
	s := NewServer(cfg, &Runtime{DB: db, Tracker: NewTracker(nil)}, "test")
	s.SetMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("# metrics\n"))
	}))
	return s, mock
}

func TestBuildMux(t *testing.T) {
	s, mock := newTestServer(t)
	mux := s.BuildMux()
	if s.BuildMux() != mux {
		t.Error("BuildMux did not cache the mux")
	}

	mock.ExpectPing()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics\n" {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/threads", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated create = %d, want 401", rec.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStartStops(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.Gateway.Host = "127.0.0.1"
	s.cfg.Gateway.Port = 0
	s.cfg.Gateway.ShutdownTimeout = config.Duration(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
