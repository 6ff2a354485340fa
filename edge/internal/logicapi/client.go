// Package logicapi is the edge node's HTTP client for the logic tier: message
// submission and the membership query made when a session connects.
package logicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loqui-im/loqui/pkg/packet"
)

// Client talks to the logic tier's HTTP API with a service token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a logic tier client. baseURL is the root of the logic
// tier's HTTP API, e.g. "http://logic:8080".
func NewClient(baseURL, serviceToken string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   serviceToken,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// SendMessage submits a client packet for routing and returns the
// authoritative message id assigned by the logic tier.
func (c *Client) SendMessage(ctx context.Context, p packet.Packet) (string, error) {
	data, err := packet.Encode(p)
	if err != nil {
		return "", fmt.Errorf("encode packet: %w", err)
	}

	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages", data, &out); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

// GroupsOf returns the group ids the uid belongs to. It satisfies the
// membership source interface the session auto-subscriber consumes.
func (c *Client) GroupsOf(ctx context.Context, uid string) ([]string, error) {
	var out struct {
		Groups []string `json:"groups"`
	}
	path := "/api/users/" + url.PathEscape(uid) + "/groups"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Code != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
