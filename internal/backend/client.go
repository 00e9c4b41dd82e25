package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Completion is one generated continuation for one prompt.
type Completion struct {
	Text         string
	FinishReason string
}

// CompletionRequest is a single batched call: one request carries every prompt
// of a worker batch, and the response aligns one completion per prompt.
type CompletionRequest struct {
	Model     string
	Prompts   []string
	MaxTokens int
	Stop      []string
}

// Client issues completion requests to an OpenAI-compatible endpoint.
//
// The client serializes calls per instance: a minimum interval derived from
// the model's request budget is enforced between consecutive requests, and
// retryable failures (429, 5xx) back off exponentially. Generation is always
// greedy (temperature 0, top_p 1); sampling is not supported.
type Client struct {
	endpoint   string
	credential string
	httpClient *http.Client

	minInterval time.Duration
	lastRequest time.Time

	// retry schedule for rate-limit and transient server errors
	initialBackoff time.Duration
	backoffFactor  float64
	maxRetries     uint64
}

// NewClient builds a client for the given endpoint and credential.
// An empty endpoint selects DefaultEndpoint.
func NewClient(endpoint, credential string, caps Capabilities) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	rpm := caps.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultCaps.RequestsPerMinute
	}
	return &Client{
		endpoint:       strings.TrimRight(endpoint, "/"),
		credential:     credential,
		httpClient:     &http.Client{Timeout: 120 * time.Second},
		minInterval:    time.Minute / time.Duration(rpm),
		initialBackoff: 3 * time.Second,
		backoffFactor:  1.5,
		maxRetries:     8,
	}
}

type apiRequest struct {
	Model       string   `json:"model"`
	Prompt      []string `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop,omitempty"`
}

type apiChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// retryableError marks a failure worth retrying (rate limit, transient 5xx).
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Complete issues one batched completion call and returns one Completion per
// prompt, in prompt order.
//
// The endpoint returns nothing when max_tokens is 1, so the effective value is
// clamped to at least 2.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) ([]Completion, error) {
	if len(req.Prompts) == 0 {
		return nil, nil
	}
	maxTokens := req.MaxTokens
	if maxTokens < 2 {
		maxTokens = 2
	}

	body := apiRequest{
		Model:       req.Model,
		Prompt:      req.Prompts,
		MaxTokens:   maxTokens,
		Temperature: 0,
		TopP:        1,
		Stop:        req.Stop,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}

	var completions []Completion
	operation := func() error {
		if err := c.throttle(ctx); err != nil {
			return backoff.Permanent(err)
		}
		res, err := c.post(ctx, payload)
		if err != nil {
			var re *retryableError
			if errors.As(err, &re) {
				return err
			}
			return backoff.Permanent(err)
		}
		completions = res
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.Multiplier = c.backoffFactor
	b.MaxElapsedTime = 0 // bounded by maxRetries, not wall time
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return completions, nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]Completion, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded apiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decoding completion response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("completion endpoint error: %s", decoded.Error.Message)
	}

	out := make([]Completion, len(decoded.Choices))
	for _, ch := range decoded.Choices {
		if ch.Index < 0 || ch.Index >= len(out) {
			return nil, fmt.Errorf("completion response has out-of-range choice index %d", ch.Index)
		}
		out[ch.Index] = Completion{Text: ch.Text, FinishReason: ch.FinishReason}
	}
	return out, nil
}

// throttle blocks until the per-credential minimum interval has elapsed since
// the previous request. The client is used by a single worker goroutine, so no
// locking is needed here.
func (c *Client) throttle(ctx context.Context) error {
	if c.lastRequest.IsZero() {
		c.lastRequest = time.Now()
		return nil
	}
	wait := c.minInterval - time.Since(c.lastRequest)
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastRequest = time.Now()
	return nil
}
