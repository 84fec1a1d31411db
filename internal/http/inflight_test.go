package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInFlight_CountsDuringRequest(t *testing.T) {
	f := &InFlight{}
	release := make(chan struct{})
	entered := make(chan struct{})
	h := f.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		close(done)
	}()

	<-entered
	if got := f.Count(); got != 1 {
		t.Errorf("Count() during request = %d, want 1", got)
	}
	close(release)
	<-done
	if got := f.Count(); got != 0 {
		t.Errorf("Count() after request = %d, want 0", got)
	}
}

func TestInFlight_WaitForZero(t *testing.T) {
	f := &InFlight{}
	f.count.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.WaitForZero(ctx, 5*time.Millisecond) }()

	time.Sleep(10 * time.Millisecond)
	f.count.Add(-1)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForZero() error = %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("WaitForZero did not return after count reached zero")
	}
}

func TestInFlight_WaitForZero_ContextCanceled(t *testing.T) {
	f := &InFlight{}
	f.count.Add(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.WaitForZero(ctx, 5*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForZero() error = %v, want context.Canceled", err)
	}
}
