package report

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func waitDone(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("callback never invoked")
		return nil
	}
}

func TestSendDelivers(t *testing.T) {
	var got Record
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	r := New(Config{URL: ts.URL})
	done := make(chan error, 1)
	r.Send(Record{Level: "info", Message: "hello", TraceID: "T1"}, func(err error) { done <- err })

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Message != "hello" || got.TraceID != "T1" {
		t.Errorf("delivered record = %+v", got)
	}
	if got.Timestamp == 0 {
		t.Error("timestamp not stamped")
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	r := New(Config{URL: ts.URL, Attempts: 3})
	done := make(chan error, 1)
	r.Send(Record{Level: "warn", Message: "flaky"}, func(err error) { done <- err })

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Send after retry: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
}

func TestSendDoesNotRetryRejections(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	r := New(Config{URL: ts.URL, Attempts: 3})
	done := make(chan error, 1)
	r.Send(Record{Level: "info", Message: "over quota"}, func(err error) { done <- err })

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("attempts = %d, want 1 (4xx outcomes are final)", n)
	}
}

func TestSendUnreachableEndpointReportsError(t *testing.T) {
	// Closed port: delivery fails, the caller's goroutine survives and
	// only the callback hears about it.
	r := New(Config{URL: "http://127.0.0.1:1/logs", Attempts: 2, Timeout: 200 * time.Millisecond})
	done := make(chan error, 1)
	r.Send(Record{Level: "error", Message: "lost"}, func(err error) { done <- err })

	if err := waitDone(t, done); err == nil {
		t.Fatal("expected a delivery error")
	}
}

func TestSendWithoutCallback(t *testing.T) {
	r := New(Config{URL: "http://127.0.0.1:1/logs", Attempts: 1, Timeout: 100 * time.Millisecond})
	// Nothing to assert beyond "does not panic or block".
	r.Send(Record{Level: "debug", Message: "fire and forget"}, nil)
	time.Sleep(300 * time.Millisecond)
}
