/**
 * @description
 * This package provides a client for the foundation's notification service.
 * It delivers commission-credited and target-completed notices over an
 * internal HTTP API. Delivery is best-effort; callers log failures and move
 * on.
 */
package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the notification service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new notification service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// CommissionCreditedNotice tells a beneficiary their wallet was credited.
type CommissionCreditedNotice struct {
	UserID     string `json:"user_id"`
	DonationID string `json:"donation_id"`
	Amount     int64  `json:"amount"` // in paise
	LevelLabel string `json:"level_label"`
}

// TargetCompletedNotice tells a target owner their collection target was met.
type TargetCompletedNotice struct {
	UserID          string  `json:"user_id"`
	TargetID        string  `json:"target_id"`
	TotalCollection int64   `json:"total_collection"` // in paise
	Progress        float64 `json:"progress"`
}

// SendCommissionCredited posts a commission-credited notice.
func (c *Client) SendCommissionCredited(ctx context.Context, notice CommissionCreditedNotice) error {
	return c.post(ctx, "/internal/notifications/commission-credited", notice)
}

// SendTargetCompleted posts a target-completed notice.
func (c *Client) SendTargetCompleted(ctx context.Context, notice TargetCompletedNotice) error {
	return c.post(ctx, "/internal/notifications/target-completed", notice)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("notification service base url is empty")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to notification service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification service returned error status %d", resp.StatusCode)
	}
	return nil
}
