package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"agentplane/pkg/api"
)

// BridgeClient handles API calls to the agentplane bridge.
type BridgeClient struct {
	BaseURL    string
	OwnerID    string
	HTTPClient *http.Client
}

// NewBridgeClient creates a new client with the given base URL and owner id.
func NewBridgeClient(baseURL, ownerID string) *BridgeClient {
	return &BridgeClient{
		BaseURL: baseURL,
		OwnerID: ownerID,
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

func (c *BridgeClient) do(method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("X-Owner-ID", c.OwnerID)
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

// StartJob sends POST /jobs to queue a new execution job.
func (c *BridgeClient) StartJob(req api.StartJobRequest) (*api.StartJobResponse, error) {
	var result api.StartJobResponse
	if err := c.do(http.MethodPost, "/jobs", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id} to retrieve job details.
func (c *BridgeClient) GetJob(jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/jobs/%s", jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /jobs to list the caller's active jobs.
func (c *BridgeClient) ListJobs() (*api.ListJobsResponse, error) {
	var result api.ListJobsResponse
	if err := c.do(http.MethodGet, "/jobs", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJobEvents sends GET /jobs/{id}/events to read a page of the event feed.
func (c *BridgeClient) GetJobEvents(jobID string, cursor int64, limit int) (*api.EventsResponse, error) {
	endpoint := fmt.Sprintf("/jobs/%s/events?cursor=%d&limit=%d", jobID, cursor, limit)
	var result api.EventsResponse
	if err := c.do(http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GeneratePack sends POST /scenario/generate to produce a scenario pack.
func (c *BridgeClient) GeneratePack(req api.GeneratePackRequest) (*api.GeneratePackResponse, error) {
	var result api.GeneratePackResponse
	if err := c.do(http.MethodPost, "/scenario/generate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartLogin sends POST /account/login/start to begin a login flow.
func (c *BridgeClient) StartLogin() (*api.LoginStartResponse, error) {
	var result api.LoginStartResponse
	if err := c.do(http.MethodPost, "/account/login/start", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLoginCompleted sends GET /account/login/completed to poll a login flow.
func (c *BridgeClient) GetLoginCompleted(loginID string) (*api.LoginCompletedResponse, error) {
	endpoint := fmt.Sprintf("/account/login/completed?loginId=%s", loginID)
	var result api.LoginCompletedResponse
	if err := c.do(http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelLogin sends POST /account/login/cancel to abandon a login flow.
func (c *BridgeClient) CancelLogin(loginID string) error {
	return c.do(http.MethodPost, "/account/login/cancel", api.LoginCancelRequest{LoginID: loginID}, nil)
}

// Logout sends POST /account/logout.
func (c *BridgeClient) Logout() error {
	return c.do(http.MethodPost, "/account/logout", nil, nil)
}

// ReadAccount sends GET /account/read to fetch the agent's account details.
func (c *BridgeClient) ReadAccount(refreshToken string) (*api.AccountResponse, error) {
	endpoint := "/account/read"
	if refreshToken != "" {
		endpoint += "?refreshToken=" + url.QueryEscape(refreshToken)
	}
	var result api.AccountResponse
	if err := c.do(http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
