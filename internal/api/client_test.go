// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// ERROR MAPPING TESTS
// =============================================================================

func TestAPIErrorSentinels(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{name: "not found", status: 404, sentinel: ErrNotFound},
		{name: "bad request", status: 400, sentinel: ErrBadRequest},
		{name: "server error", status: 500, sentinel: ErrServerError},
		{name: "bad gateway", status: 502, sentinel: ErrServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := handleErrorResponse(tc.status, []byte(`{"error": "boom"}`))
			if !errors.Is(err, tc.sentinel) {
				t.Errorf("status %d: expected errors.Is(%v), got %v", tc.status, tc.sentinel, err)
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.Status != tc.status {
				t.Errorf("Status = %d, expected %d", apiErr.Status, tc.status)
			}
			if apiErr.Message != "boom" {
				t.Errorf("Message = %q, expected 'boom'", apiErr.Message)
			}
		})
	}
}

func TestHandleErrorResponseFallback(t *testing.T) {
	// Unparseable body falls back to the raw text
	err := handleErrorResponse(500, []byte("plain text failure"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Message != "plain text failure" {
		t.Errorf("Message = %q, expected raw body", apiErr.Message)
	}

	// Empty body falls back to the status text
	err = handleErrorResponse(404, nil)
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Message != "Not Found" {
		t.Errorf("Message = %q, expected 'Not Found'", apiErr.Message)
	}
}

func TestAPIErrorDoesNotMatchOtherSentinels(t *testing.T) {
	err := handleErrorResponse(404, []byte(`{"error": "missing"}`))
	if errors.Is(err, ErrBadRequest) {
		t.Error("404 should not match ErrBadRequest")
	}
	if errors.Is(err, ErrServerError) {
		t.Error("404 should not match ErrServerError")
	}
}

// =============================================================================
// RETRY LOGIC TESTS
// =============================================================================

func TestCalculateBackoff(t *testing.T) {
	client := NewClient("")

	delay0 := client.calculateBackoff(0)
	if delay0 != 500*time.Millisecond {
		t.Errorf("Backoff for attempt 0 = %v, expected 500ms", delay0)
	}

	delay1 := client.calculateBackoff(1)
	if delay1 != 1000*time.Millisecond {
		t.Errorf("Backoff for attempt 1 = %v, expected 1000ms", delay1)
	}

	delay2 := client.calculateBackoff(2)
	if delay2 != 2000*time.Millisecond {
		t.Errorf("Backoff for attempt 2 = %v, expected 2000ms", delay2)
	}

	// High attempts cap at max delay
	delayHigh := client.calculateBackoff(10)
	if delayHigh != 10*time.Second {
		t.Errorf("Backoff for attempt 10 = %v, expected 10s (max)", delayHigh)
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "transient"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": "p1", "name": "Dr. House"}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	providers, err := client.ListProviders(ctx)
	if err != nil {
		t.Fatalf("ListProviders after transient errors: %v", err)
	}
	if len(providers) != 1 || providers[0].ID != "p1" {
		t.Errorf("unexpected providers: %+v", providers)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, expected 3", got)
	}
}

func TestGetDoesNotRetryNotFound(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "Patient not found"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.GetPatient(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, expected 1 (4xx must not retry)", got)
	}
}

func TestRetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": "still down"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL).WithMaxRetries(2)

	_, err := client.ListProviders(context.Background())
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError through the retry wrapper, got %v", err)
	}
}

// =============================================================================
// CLIENT CONFIGURATION TESTS
// =============================================================================

func TestNewClientDefaults(t *testing.T) {
	client := NewClient("")
	if client.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL() = %q, expected %q", client.BaseURL(), DefaultBaseURL)
	}

	// Trailing slashes are trimmed so endpoint joins stay clean
	client = NewClient("http://example.test/")
	if client.BaseURL() != "http://example.test" {
		t.Errorf("BaseURL() = %q, expected trimmed URL", client.BaseURL())
	}
}

func TestClientMethodChaining(t *testing.T) {
	client := NewClient("http://example.test").
		WithTimeout(5 * time.Second).
		WithMaxRetries(5).
		WithRateLimit(100, 10).
		WithDebug(true)

	if client == nil {
		t.Fatal("method chaining should return non-nil client")
	}
	if client.BaseURL() != "http://example.test" {
		t.Errorf("BaseURL() = %q after chaining", client.BaseURL())
	}
}

// =============================================================================
// HEALTH ENDPOINT TESTS
// =============================================================================

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "healthy"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	h, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !h.Healthy() {
		t.Errorf("Healthy() = false for status %q", h.Status)
	}
}

func TestHealthUnreachable(t *testing.T) {
	// A closed server yields a transport error, not a typed API error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL).WithMaxRetries(1)

	_, err := client.Health(context.Background())
	if err == nil {
		t.Fatal("expected error for unreachable backend")
	}
	if errors.Is(err, ErrServerError) {
		t.Error("transport failure should not map to ErrServerError")
	}
}
