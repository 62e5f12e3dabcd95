package bridge

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

const receiptHeader = "X-Relay-Receipt"

// HTTPEndpoint delivers raw messages to a counterpart vault process over
// HTTP. It is the default Endpoint under a BridgeSender when two daemons
// bridge each other directly.
type HTTPEndpoint struct {
	url    string
	client *http.Client
}

func NewHTTPEndpoint(url string) *HTTPEndpoint {
	return &HTTPEndpoint{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *HTTPEndpoint) Deliver(raw []byte) error {
	resp, err := e.client.Post(e.url, "application/octet-stream", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bridge: endpoint returned %s", resp.Status)
	}
	return nil
}

// HTTPRelayClient submits messages to a trusted relay server. The receipt id
// travels in a header so the relay can reconcile submissions.
type HTTPRelayClient struct {
	url    string
	client *http.Client
}

func NewHTTPRelayClient(url string) *HTTPRelayClient {
	return &HTTPRelayClient{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPRelayClient) Submit(ctx context.Context, receiptID string, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(receiptHeader, receiptID)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bridge: relay returned %s", resp.Status)
	}
	return nil
}
