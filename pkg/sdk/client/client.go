// Package client is a small Go client for the ticketd and approvald APIs,
// intended for CLI and UI layers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avasiliu/tradegate/pkg/types"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// SubmitTicket runs a ticket through rule evaluation (ticketd).
func (c *Client) SubmitTicket(ctx context.Context, ticketID string) (*types.SubmitTicketResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/tickets/"+ticketID+"/submit", http.NoBody)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)

	var resp types.SubmitTicketResponse
	if err := c.doJSON(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRequest opens an approval request directly (approvald).
func (c *Client) CreateRequest(ctx context.Context, in types.CreateRequestInput) (*types.ApprovalRequest, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/approval-requests", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	var resp types.ApprovalRequest
	if err := c.doJSON(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitAction records one role's decision on a request.
func (c *Client) SubmitAction(ctx context.Context, requestID string, in types.SubmitActionInput) (*types.ApprovalRequest, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/approval-requests/"+requestID+"/actions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	var resp struct {
		Request *types.ApprovalRequest `json:"request"`
	}
	if err := c.doJSON(httpReq, &resp); err != nil {
		return nil, err
	}
	return resp.Request, nil
}

// GetStatus fetches a request's current state.
func (c *Client) GetStatus(ctx context.Context, requestID string) (*types.ApprovalRequest, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/approval-requests/"+requestID, http.NoBody)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)

	var resp types.ApprovalRequest
	if err := c.doJSON(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListActions fetches a request's audit trail in insertion order.
func (c *Client) ListActions(ctx context.Context, requestID string) ([]types.ApprovalAction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/approval-requests/"+requestID+"/actions", http.NoBody)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)

	var actions []types.ApprovalAction
	if err := c.doJSON(httpReq, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// WaitForDecision polls until the request leaves pending_approval.
func (c *Client) WaitForDecision(ctx context.Context, requestID string, pollEvery time.Duration) (*types.ApprovalRequest, error) {
	t := time.NewTicker(pollEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			req, err := c.GetStatus(ctx, requestID)
			if err != nil {
				continue
			}
			if req.Status.Terminal() {
				return req, nil
			}
		}
	}
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr types.APIError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			return fmt.Errorf("api error %s: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}
