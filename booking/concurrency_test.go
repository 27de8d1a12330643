package booking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestConcurrencyMiddleware_TimesOutWhenNoSlot(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	secondDone := make(chan struct{})
	var startedOnce sync.Once

	// handler que segura a vaga até liberarmos.
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedOnce.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusOK)
	})

	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max:            1,
		AcquireTimeout: 25 * time.Millisecond,
	})(next)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r1 := httptest.NewRequest(http.MethodPost, "http://example/api/book-bus", nil)
		w1 := httptest.NewRecorder()
		h.ServeHTTP(w1, r1)
		if w1.Code != http.StatusOK {
			t.Errorf("expected first request 200, got %d", w1.Code)
		}
	}()

	select {
	case <-started:
	case <-time.After(200 * time.Millisecond):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting first request to start")
	}

	go func() {
		defer wg.Done()
		r2 := httptest.NewRequest(http.MethodPost, "http://example/api/book-bus", nil)
		w2 := httptest.NewRecorder()
		h.ServeHTTP(w2, r2)
		if w2.Code != http.StatusServiceUnavailable {
			t.Errorf("expected second request 503, got %d", w2.Code)
		}
		if got := w2.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("expected CORS header on 503, got %q", got)
		}
		close(secondDone)
	}()

	// a segunda precisa terminar antes de liberar a primeira
	select {
	case <-secondDone:
	case <-time.After(500 * time.Millisecond):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting second request to finish")
	}

	close(release)
	wg.Wait()
}

func TestConcurrencyMiddleware_DisabledWhenMaxIsZero(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := ConcurrencyMiddleware(ConcurrencyOptions{})(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}
}

func TestConcurrencyMiddleware_WithoutTimeoutWaitsForRequestContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	})
	h := ConcurrencyMiddleware(ConcurrencyOptions{Max: 1})(next)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "http://example/api/book-bus", nil))
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "http://example/api/book-bus", nil).WithContext(ctx))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once the request context ends, got %d", w.Code)
	}

	close(release)
	<-done
}
