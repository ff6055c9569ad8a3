// Package client is the HTTP adapter for the external WhatsApp gateway
// process. The gateway owns the session (QR pairing, reconnects); this side
// only asks whether it is ready and posts sends to it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/orionwa/dispatch/internal/model"
)

const defaultReadyPollInterval = 5 * time.Second

type WhatsAppClient struct {
	baseURL string
	token   string
	client  *http.Client

	ready atomic.Bool
}

func NewWhatsAppClient(baseURL, token string) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			// Above the dispatcher's send ceiling; the envelope fires first.
			Timeout: 35 * time.Second,
		},
	}
}

// WatchReadiness polls the gateway's status endpoint until ctx is cancelled,
// mirroring the ready/disconnected notifications the gateway emits. Run it
// in its own goroutine.
func (c *WhatsAppClient) WatchReadiness(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = defaultReadyPollInterval
	}

	c.ready.Store(c.probe(ctx))

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.ready.Store(false)
			return
		case <-ticker.C:
			c.ready.Store(c.probe(ctx))
		}
	}
}

func (c *WhatsAppClient) IsReady() bool {
	return c.ready.Load()
}

type statusResponse struct {
	Connected bool `json:"connected"`
}

func (c *WhatsAppClient) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return false
	}
	return sr.Connected
}

type sendTextRequest struct {
	Address string `json:"address"`
	Text    string `json:"text"`
}

type sendMediaRequest struct {
	Address  string `json:"address"`
	Mime     string `json:"mime"`
	Data     string `json:"data"`
	Filename string `json:"filename"`
}

func (c *WhatsAppClient) SendText(ctx context.Context, address, text string) error {
	return c.post(ctx, "/send", sendTextRequest{Address: address, Text: text})
}

func (c *WhatsAppClient) SendMedia(ctx context.Context, address string, media model.Media) error {
	return c.post(ctx, "/send-media", sendMediaRequest{
		Address:  address,
		Mime:     media.Mime,
		Data:     media.Data,
		Filename: media.Filename,
	})
}

func (c *WhatsAppClient) post(ctx context.Context, path string, payload any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	// Delivery is at-least-once: a row whose status update fails gets sent
	// again. The key lets a gateway that cares deduplicate the attempt.
	req.Header.Set("X-Idempotency-Key", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}
	return nil
}

func (c *WhatsAppClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("X-Gateway-Token", c.token)
	}
}
