package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HTTPExecutor calls an external agent service over HTTP.
//
//	POST {BaseURL}/execute  ExecuteRequest -> Outcome
//	POST {BaseURL}/resume   ResumeRequest  -> Outcome
//
// 4xx responses other than 408 and 429 are permanent failures.
type HTTPExecutor struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPExecutor creates an executor for the service at baseURL.
func NewHTTPExecutor(baseURL, apiKey string) *HTTPExecutor {
	return &HTTPExecutor{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		// No client timeout; the scheduler sets a deadline on ctx per item.
		HTTPClient: &http.Client{},
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, req ExecuteRequest) (Outcome, error) {
	return e.post(ctx, "/execute", req)
}

func (e *HTTPExecutor) ResumeFromCheckpoint(ctx context.Context, req ResumeRequest) (Outcome, error) {
	return e.post(ctx, "/resume", req)
}

func (e *HTTPExecutor) post(ctx context.Context, path string, body any) (Outcome, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Outcome{}, Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.APIKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	resp, err := e.HTTPClient.Do(httpReq)
	if err != nil {
		return Outcome{}, fmt.Errorf("executor request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read executor response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("executor %s returned %d after %v: %s",
			path, resp.StatusCode, time.Since(start).Round(time.Millisecond), strings.TrimSpace(string(data)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return Outcome{}, Permanent(err)
		}
		return Outcome{}, err
	}

	var out Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return Outcome{}, fmt.Errorf("failed to decode executor outcome: %w", err)
	}
	return out, nil
}
