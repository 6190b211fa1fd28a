package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	client, err := NewClient(serverURL, "test-key", "noreply@example.edu")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientSend(t *testing.T) {
	var captured sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(sendResponse{ID: "msg-1"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.Send(context.Background(), "alice@example.edu", KindPasswordReset, map[string]string{"token": "abc"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if captured.To != "alice@example.edu" || captured.Template != KindPasswordReset {
		t.Fatalf("payload = %+v", captured)
	}
	if captured.From != "noreply@example.edu" || captured.Vars["token"] != "abc" {
		t.Fatalf("payload = %+v", captured)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(sendResponse{ID: "msg-1"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.Send(context.Background(), "alice@example.edu", KindWelcome, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"message":"unknown template"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.Send(context.Background(), "alice@example.edu", "nonexistent", nil)
	if err == nil {
		t.Fatal("send succeeded against 422")
	}
	if !strings.Contains(err.Error(), "unknown template") {
		t.Fatalf("error = %v, want api message surfaced", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 for terminal failure", calls.Load())
	}
}

func TestClientStopsOnCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, server.URL)
	if err := client.Send(ctx, "alice@example.edu", KindWelcome, nil); err == nil {
		t.Fatal("send with cancelled context succeeded")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "key", "from"); err == nil {
		t.Fatal("missing api url accepted")
	}
	if _, err := NewClient("https://mail.example.com", " ", "from"); err == nil {
		t.Fatal("missing api key accepted")
	}
}
