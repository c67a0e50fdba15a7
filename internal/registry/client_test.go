package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	return NewClient(ts.URL, zap.NewNop())
}

func TestLookup_Member(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/alice/" {
			t.Fatalf("path = %s, want /alice/", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	code, err := client.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", code, http.StatusOK)
	}
}

func TestLookup_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	code, err := client.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", code, http.StatusNotFound)
	}
}

func TestLookup_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	code, err := client.Lookup(ctx, "alice")
	if err == nil {
		t.Fatalf("expected error for 500")
	}
	if code != http.StatusInternalServerError {
		t.Fatalf("status code = %d, want %d", code, http.StatusInternalServerError)
	}
}

func TestLookup_NotConfigured(t *testing.T) {
	var client *Client

	if _, err := client.Lookup(context.Background(), "alice"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
