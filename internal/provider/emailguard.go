package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/placement-engine/internal/domain"
)

const (
	DefaultAPIURL = "https://app.emailguard.io/api/v1"

	defaultTimeout       = 30 * time.Second
	defaultRetryWait     = 2 * time.Second
	defaultRetryMaxWait  = 8 * time.Second
	testNameTimeLayout   = "2006-01-02 15:04:05"
	inboxPlacementTests  = "/inbox-placement-tests"
	appInboxPlacementURL = "/inbox-placement-tests/"
)

// ClientConfig configures the EmailGuard client. RetryCount applies to
// result fetches only; registrations are never retried because a replayed
// create would register a second test.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

type createTestRequest struct {
	Name string `json:"name"`
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type testPayload struct {
	UUID                 string        `json:"uuid"`
	Name                 string        `json:"name"`
	Status               string        `json:"status"`
	FilterPhrase         string        `json:"filter_phrase"`
	CommaSeparatedEmails string        `json:"comma_separated_test_email_addresses"`
	OverallScore         *float64      `json:"overall_score"`
	Emails               []seedPayload `json:"inbox_placement_test_emails"`
}

type seedPayload struct {
	Email    string `json:"email"`
	Provider string `json:"provider"`
	Folder   string `json:"folder"`
	Status   string `json:"status"`
}

// EmailGuardClient talks to the EmailGuard inbox placement API.
type EmailGuardClient struct {
	client  *resty.Client
	baseURL string
	appURL  string
	now     func() time.Time
}

func NewEmailGuardClient(cfg ClientConfig) (*EmailGuardClient, error) {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetRetryWaitTime(defaultRetryWait)
	client.SetRetryMaxWaitTime(defaultRetryMaxWait)

	return NewEmailGuardClientWithClient(cfg, client)
}

func NewEmailGuardClientWithClient(cfg ClientConfig, client *resty.Client) (*EmailGuardClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid measurement api url: %w", err)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("measurement api key is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client.SetTimeout(timeout)
	}
	client.SetAuthToken(apiKey)
	client.SetHeader("Accept", "application/json")
	client.SetRetryCount(max(cfg.RetryCount, 0))
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
			return false
		}
		return err != nil || isTransientHTTPStatus(r.StatusCode())
	})

	return &EmailGuardClient{
		client:  client,
		baseURL: baseURL,
		appURL:  strings.TrimSuffix(baseURL, "/api/v1"),
		now:     time.Now,
	}, nil
}

// RegisterTest creates an inbox placement test named after the sender domain.
func (c *EmailGuardClient) RegisterTest(ctx context.Context, account domain.Account) (*Registration, error) {
	name := fmt.Sprintf("Inbox Test - %s - %s", account.Domain(), c.now().Format(testNameTimeLayout))

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(createTestRequest{Name: name}).
		Post(c.baseURL + inboxPlacementTests)
	if err != nil {
		return nil, requestError(err)
	}

	payload, err := decodeTest(response)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.UUID) == "" {
		return nil, &ServiceError{StatusCode: response.StatusCode(), Message: "registration response has no test uuid"}
	}

	recipients := splitAddresses(payload.CommaSeparatedEmails)
	if len(recipients) == 0 {
		for _, seed := range payload.Emails {
			if email := strings.TrimSpace(seed.Email); email != "" {
				recipients = append(recipients, email)
			}
		}
	}
	if len(recipients) == 0 {
		return nil, &ServiceError{StatusCode: response.StatusCode(), Message: "registration response has no seed addresses"}
	}

	return &Registration{
		TestID:       payload.UUID,
		Name:         firstNonEmpty(payload.Name, name),
		FilterPhrase: payload.FilterPhrase,
		Recipients:   recipients,
		TestURL:      c.TestURL(payload.UUID),
	}, nil
}

// FetchResult returns the current state of a test.
func (c *EmailGuardClient) FetchResult(ctx context.Context, testID string) (*TestResult, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return nil, fmt.Errorf("%w: test id is required", domain.ErrValidation)
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetPathParam("uuid", testID).
		Get(c.baseURL + inboxPlacementTests + "/{uuid}")
	if err != nil {
		return nil, requestError(err)
	}

	payload, err := decodeTest(response)
	if err != nil {
		return nil, err
	}

	result := payload.toResult()
	if result.TestID == "" {
		result.TestID = testID
	}
	result.Raw = append([]byte(nil), response.Body()...)
	return result, nil
}

// TestURL is the human-facing page of a test.
func (c *EmailGuardClient) TestURL(testID string) string {
	return c.appURL + appInboxPlacementURL + testID
}

// ParseTestResult decodes a stored fetch payload.
func ParseTestResult(raw []byte) (*TestResult, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode test payload: %w", err)
	}
	var payload testPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode test data: %w", err)
	}
	result := payload.toResult()
	result.Raw = raw
	return result, nil
}

func (p testPayload) toResult() *TestResult {
	result := &TestResult{
		TestID:       p.UUID,
		Name:         p.Name,
		Status:       p.Status,
		OverallScore: p.OverallScore,
		Seeds:        make([]SeedResult, 0, len(p.Emails)),
	}
	for _, e := range p.Emails {
		result.Seeds = append(result.Seeds, SeedResult(e))
	}
	return result
}

func decodeTest(response *resty.Response) (*testPayload, error) {
	if response == nil {
		return nil, &ServiceError{Message: "measurement service returned empty response", Transient: true}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &ServiceError{
			StatusCode: statusCode,
			Message:    serviceErrorMessage(statusCode, body),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	var env envelope
	if err := json.Unmarshal(response.Body(), &env); err != nil {
		return nil, &ServiceError{StatusCode: statusCode, Message: "invalid response body", Cause: err}
	}
	var payload testPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, &ServiceError{StatusCode: statusCode, Message: "invalid test payload", Cause: err}
	}
	return &payload, nil
}

func requestError(err error) error {
	return &ServiceError{
		Message:   "measurement service request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func serviceErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("measurement service returned status %d", statusCode)
	if body == "" {
		return base
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
