package httpretry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testClient() *Client {
	c := New(zap.NewNop())
	c.step = time.Millisecond
	return c
}

func TestDo_RetryExhaustion(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient().Do(context.Background(), srv.URL, Options{Retries: 2, RetriesSet: true})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}
	// 1 initial + 2 retries
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

func TestDo_NoRetryOn4xx(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad machine config"}`))
	}))
	defer srv.Close()

	resp, err := testClient().Do(context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatalf("4xx must be returned, not retried: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestDo_RecoversAfterTransientFailure(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := testClient().Do(context.Background(), srv.URL, Options{Retries: 2, RetriesSet: true})
	if err != nil {
		t.Fatalf("expected recovery on final attempt: %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("unexpected body %q", resp.Body)
	}
}

func TestDo_NetworkFailureRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := testClient().Do(context.Background(), srv.URL, Options{Retries: 1, RetriesSet: true})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted on network failure, got %v", err)
	}
}

func TestDoJSON_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		w.Write([]byte(`{"id":"m-1","state":"started"}`))
	}))
	defer srv.Close()

	var out struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	resp, err := testClient().DoJSON(context.Background(), http.MethodPost, srv.URL,
		map[string]string{"name": "ws"}, &out, Options{})
	if err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if !resp.OK() || out.ID != "m-1" || out.State != "started" {
		t.Errorf("unexpected response: %d %+v", resp.StatusCode, out)
	}
}

func TestDo_PerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	start := time.Now()
	_, err := testClient().Do(context.Background(), srv.URL, Options{
		Retries: 0, RetriesSet: true, Timeout: 50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("attempt not bounded by timeout, took %s", elapsed)
	}
}
