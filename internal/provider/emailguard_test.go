package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/placement-engine/internal/domain"
)

func newTestClient(t *testing.T, baseURL string, retries int) *EmailGuardClient {
	t.Helper()

	rc := resty.New().SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)
	c, err := NewEmailGuardClientWithClient(ClientConfig{
		BaseURL:    baseURL + "/api/v1",
		APIKey:     "secret-key",
		Timeout:    2 * time.Second,
		RetryCount: retries,
	}, rc)
	if err != nil {
		t.Fatalf("NewEmailGuardClientWithClient() error = %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return c
}

func TestRegisterTestSuccess(t *testing.T) {
	t.Parallel()

	var gotBody createTestRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/inbox-placement-tests" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"uuid":"abc-123","filter_phrase":"xyz789","comma_separated_test_email_addresses":"seed1@gmail.com, seed2@outlook.com"}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	reg, err := c.RegisterTest(context.Background(), domain.Account{FromEmail: "john@company.com"})
	if err != nil {
		t.Fatalf("RegisterTest() unexpected error = %v", err)
	}

	if gotBody.Name != "Inbox Test - company.com - 2026-03-01 09:30:00" {
		t.Fatalf("request name = %q", gotBody.Name)
	}
	if reg.TestID != "abc-123" || reg.FilterPhrase != "xyz789" {
		t.Fatalf("registration = %+v", reg)
	}
	if len(reg.Recipients) != 2 || reg.Recipients[1] != "seed2@outlook.com" {
		t.Fatalf("Recipients = %v", reg.Recipients)
	}
	if reg.TestURL != server.URL+"/inbox-placement-tests/abc-123" {
		t.Fatalf("TestURL = %q", reg.TestURL)
	}
}

func TestRegisterTestIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 3)
	_, err := c.RegisterTest(context.Background(), domain.Account{FromEmail: "a@b.com"})
	if !IsTransient(err) {
		t.Fatalf("RegisterTest() error = %v, want transient", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestRegisterTestStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		body          string
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad gateway is transient", statusCode: http.StatusBadGateway, wantTransient: true},
		{name: "unauthorized is permanent", statusCode: http.StatusUnauthorized, wantTransient: false},
		{name: "unprocessable is permanent", statusCode: http.StatusUnprocessableEntity, wantTransient: false},
		{name: "missing uuid is permanent", statusCode: http.StatusOK, body: `{"data":{}}`, wantTransient: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, 0)
			_, err := c.RegisterTest(context.Background(), domain.Account{FromEmail: "a@b.com"})

			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) {
				t.Fatalf("expected ServiceError, got %T (%v)", err, err)
			}
			if serviceErr.StatusCode != tc.statusCode {
				t.Fatalf("StatusCode = %d, want %d", serviceErr.StatusCode, tc.statusCode)
			}
			if IsTransient(err) != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", IsTransient(err), tc.wantTransient)
			}
		})
	}
}

func TestFetchResultRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/inbox-placement-tests/abc-123" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"uuid":"abc-123","status":"completed","overall_score":87.5,"inbox_placement_test_emails":[
			{"email":"s1@gmail.com","provider":"Google","folder":"inbox","status":"received"},
			{"email":"s2@outlook.com","provider":"Microsoft","folder":"junk","status":"received"},
			{"email":"s3@gmail.com","provider":"Google","folder":null,"status":"waiting_for_email"}]}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 3)
	result, err := c.FetchResult(context.Background(), "abc-123")
	if err != nil {
		t.Fatalf("FetchResult() unexpected error = %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if !result.IsComplete() || len(result.Seeds) != 3 || result.OverallScore == nil || *result.OverallScore != 87.5 {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Raw) == 0 {
		t.Fatal("Raw payload not retained")
	}

	parsed, err := ParseTestResult(result.Raw)
	if err != nil {
		t.Fatalf("ParseTestResult() error = %v", err)
	}
	if parsed.TestID != "abc-123" || len(parsed.Seeds) != 3 {
		t.Fatalf("ParseTestResult() = %+v", parsed)
	}
}

func TestFetchResultNotFoundIsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 3)
	_, err := c.FetchResult(context.Background(), "missing")
	if err == nil || IsTransient(err) {
		t.Fatalf("FetchResult() error = %v, want permanent", err)
	}
	if _, err := c.FetchResult(context.Background(), " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("FetchResult(\"\") error = %v, want ErrValidation", err)
	}
}

func TestNewEmailGuardClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewEmailGuardClient(ClientConfig{APIKey: ""}); err == nil {
		t.Fatal("expected error for missing api key")
	}
	if _, err := NewEmailGuardClientWithClient(ClientConfig{APIKey: "k", BaseURL: "::bad"}, resty.New()); err == nil {
		t.Fatal("expected error for invalid url")
	}
	if _, err := NewEmailGuardClientWithClient(ClientConfig{APIKey: "k"}, nil); err == nil {
		t.Fatal("expected error for nil client")
	}

	c, err := NewEmailGuardClient(ClientConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewEmailGuardClient() error = %v", err)
	}
	if got := c.TestURL("u1"); got != "https://app.emailguard.io/inbox-placement-tests/u1" {
		t.Fatalf("TestURL() = %q", got)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	if IsTransient(nil) {
		t.Fatal("nil is not transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded is transient")
	}
	if IsTransient(context.Canceled) {
		t.Fatal("canceled is not transient")
	}
	wrapped := &RegistrationError{AccountID: "a@b.com", Err: &ServiceError{StatusCode: 503, Transient: true}}
	if !IsTransient(wrapped) {
		t.Fatal("registration error should expose wrapped transience")
	}
}
