package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClampRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"below minimum", 2 * time.Second, MinRetryAfter},
		{"within window", 30 * time.Second, 30 * time.Second},
		{"above maximum", 10 * time.Minute, MaxRetryAfter},
		{"at minimum", MinRetryAfter, MinRetryAfter},
		{"at maximum", MaxRetryAfter, MaxRetryAfter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampRetryAfter(tt.in); got != tt.want {
				t.Errorf("ClampRetryAfter(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDefaultRetryStrategy(t *testing.T) {
	tests := []struct {
		status int
		want   RetryStrategy
	}{
		{http.StatusTooManyRequests, SmartRetry},
		{http.StatusServiceUnavailable, SmartRetry},
		{http.StatusInternalServerError, ConservativeRetry},
		{http.StatusBadGateway, ConservativeRetry},
		{http.StatusGatewayTimeout, ConservativeRetry},
		{http.StatusRequestTimeout, ConservativeRetry},
		{http.StatusBadRequest, NoRetry},
		{http.StatusUnauthorized, NoRetry},
		{http.StatusNotFound, NoRetry},
	}

	for _, tt := range tests {
		if got := DefaultRetryStrategy(tt.status); got != tt.want {
			t.Errorf("DefaultRetryStrategy(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestDoSuccessNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(WithMaxRetries(3))
	req, _ := http.NewRequest("GET", srv.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoServerErrorRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(WithMaxRetries(3), WithBaseDelay(time.Millisecond))
	req, _ := http.NewRequest("GET", srv.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDoClientErrorNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := New(WithMaxRetries(3))
	req, _ := http.NewRequest("GET", srv.URL, nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if resp != nil {
		resp.Body.Close()
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestParseOpenAIHeadersRetryAfter(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "30")

	info := ParseOpenAIHeaders(headers)
	if info.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", info.RetryAfter)
	}
}

func TestParseRetryAfterHeader(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "45")

	info := ParseRetryAfterHeader(headers)
	if info.RetryAfter != 45*time.Second {
		t.Errorf("RetryAfter = %v, want 45s", info.RetryAfter)
	}

	empty := ParseRetryAfterHeader(http.Header{})
	if empty.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0", empty.RetryAfter)
	}
}
