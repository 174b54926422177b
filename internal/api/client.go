package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Client talks to the collaborator's small HTTP surface: the health probe,
// the payment-status fallback, and QR generation.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// Health probes the collaborator. Used as a keep-alive; the result is only
// logged.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.get(ctx, "/health")
	return err
}

// RunKeepAlive probes the collaborator immediately and then on every
// interval until ctx is cancelled. Failures are logged and otherwise
// ignored; the probe exists to keep the collaborator warm, not to gate
// anything.
func (c *Client) RunKeepAlive(ctx context.Context, clock clockwork.Clock, interval time.Duration) {
	probe := func() {
		if err := c.Health(ctx); err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Msg("health probe failed")
		}
	}
	probe()

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			probe()
		}
	}
}

// PaymentStatus is the payment-status endpoint's response.
type PaymentStatus struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Verified reports whether the status amounts to a settled invoice.
func (s PaymentStatus) Verified() bool {
	return s.Success && (s.Status == "paid" || s.Status == "completed")
}

// CheckPayment polls the status of one invoice.
func (c *Client) CheckPayment(ctx context.Context, invoiceID string) (PaymentStatus, error) {
	body, err := c.get(ctx, "/api/check-payment/"+invoiceID)
	if err != nil {
		return PaymentStatus{}, err
	}

	var status PaymentStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return PaymentStatus{}, fmt.Errorf("decode payment status: %w", err)
	}
	return status, nil
}

type qrRequest struct {
	Invoice string `json:"invoice"`
}

type qrResponse struct {
	QR string `json:"qr"`
}

// GenerateQR asks the collaborator to render an invoice as a QR image and
// returns the image data URL.
func (c *Client) GenerateQR(ctx context.Context, invoice string) (string, error) {
	payload, err := json.Marshal(qrRequest{Invoice: invoice})
	if err != nil {
		return "", fmt.Errorf("marshal qr request: %w", err)
	}

	body, err := c.post(ctx, "/api/generate-qr", payload)
	if err != nil {
		return "", err
	}

	var resp qrResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode qr response: %w", err)
	}
	if resp.QR == "" {
		return "", fmt.Errorf("qr response missing image data")
	}
	return resp.QR, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, endpoint, body)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, responseBody)
	}
	return responseBody, nil
}
