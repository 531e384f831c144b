package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/intexuraos/code-dispatch/internal/domain"
)

// HTTPActionClient talks to the upstream action-tracking service
type HTTPActionClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPActionClient creates a client for the given service base URL
func NewHTTPActionClient(baseURL, token string) *HTTPActionClient {
	return &HTTPActionClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type updateStatusRequest struct {
	Status  string  `json:"status"`
	Detail  *Detail `json:"detail,omitempty"`
	TraceID string  `json:"traceId,omitempty"`
}

// UpdateActionStatus posts the mapped status to the upstream action record
func (c *HTTPActionClient) UpdateActionStatus(ctx context.Context, actionID string, status domain.TaskStatus, detail *Detail, traceID string) error {
	payload, err := json.Marshal(updateStatusRequest{
		Status:  string(status),
		Detail:  detail,
		TraceID: traceID,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/actions/%s/status", c.baseURL, actionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("action service returned %d", resp.StatusCode)
	}
	return nil
}
