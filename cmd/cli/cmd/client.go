package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"ticketflow/pkg/api"
)

// Client handles API calls to the ticketflow controller.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL and token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends a JSON request and decodes a 2xx response into out (if non-nil).
func (c *Client) do(method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	httpReq, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		var apiErr api.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// CreateTenant sends POST /tenants. Token is the admin token here.
func (c *Client) CreateTenant(req api.CreateTenantRequest) (*api.CreateTenantResponse, error) {
	var result api.CreateTenantResponse
	if err := c.do(http.MethodPost, "/tenants", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Trigger sends POST /tickets.
func (c *Client) Trigger(req api.TriggerRequest) (*api.TriggerResponse, error) {
	var result api.TriggerResponse
	if err := c.do(http.MethodPost, "/tickets", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTicket sends GET /tickets/{id}.
func (c *Client) GetTicket(ticketID string) (*api.TicketResponse, error) {
	var result api.TicketResponse
	if err := c.do(http.MethodGet, "/tickets/"+url.PathEscape(ticketID), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListExecutions sends GET /tickets/{id}/executions.
func (c *Client) ListExecutions(ticketID string) ([]api.ExecutionResponse, error) {
	var result api.ListExecutionsResponse
	if err := c.do(http.MethodGet, "/tickets/"+url.PathEscape(ticketID)+"/executions", nil, nil, &result); err != nil {
		return nil, err
	}
	return result.Executions, nil
}

// Resume sends POST /tickets/{id}/resume.
func (c *Client) Resume(ticketID, message string) error {
	return c.do(http.MethodPost, "/tickets/"+url.PathEscape(ticketID)+"/resume", nil, api.ResumeRequest{Message: message}, nil)
}

// Cancel sends POST /tickets/{id}/cancel.
func (c *Client) Cancel(ticketID, reason string) (*api.TicketResponse, error) {
	var result api.TicketResponse
	err := c.do(http.MethodPost, "/tickets/"+url.PathEscape(ticketID)+"/cancel", nil, api.CancelRequest{Reason: reason}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// QueryEvents sends GET /events with the given filters.
func (c *Client) QueryEvents(query url.Values) (*api.EventsResponse, error) {
	var result api.EventsResponse
	if err := c.do(http.MethodGet, "/events", query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats sends GET /events/stats.
func (c *Client) Stats() (*api.StatsResponse, error) {
	var result api.StatsResponse
	if err := c.do(http.MethodGet, "/events/stats", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// printAPIError reports err the way every command does.
func printAPIError(p interface{ Printf(string, ...interface{}) }, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		p.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	p.Printf("Error: %v\n", err)
}
