package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"servicemarket/crypto"
)

const principalHeader = "X-Market-Principal"

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (http %d): %s", e.Code, e.Status, e.Message)
}

const maxAttempts = 3

type client struct {
	baseURL   string
	token     string
	principal [20]byte
	http      *http.Client
	backoff   time.Duration
}

func newClient(baseURL, token string, principal [20]byte) *client {
	return &client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     strings.TrimSpace(token),
		principal: principal,
		http:      &http.Client{Timeout: 15 * time.Second},
		backoff:   250 * time.Millisecond,
	}
}

func (c *client) backoffDuration(attempt int) time.Duration {
	return c.backoff * time.Duration(1<<uint(attempt-1))
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// do sends body as JSON and decodes the reply into out. A POST carries one
// idempotency key across its retries, so a request that reached the server
// before the connection failed is not applied twice.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = encoded
	}
	key := ""
	if method == http.MethodPost {
		key = uuid.NewString()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoffDuration(attempt - 1)):
			}
		}
		status, payload, err := c.send(ctx, method, path, raw, key)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			lastErr = err
			continue
		}
		if status >= http.StatusBadRequest {
			lastErr = decodeAPIError(status, payload)
			if retryableStatus(status) {
				continue
			}
			return lastErr
		}
		if out == nil || len(payload) == 0 {
			return nil
		}
		return json.Unmarshal(payload, out)
	}
	return lastErr
}

func (c *client) send(ctx context.Context, method, path string, raw []byte, key string) (int, []byte, error) {
	var reader io.Reader
	if raw != nil {
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.principal != [20]byte{}:
		req.Header.Set(principalHeader, crypto.FormatPrincipal(c.principal))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}

func decodeAPIError(status int, payload []byte) error {
	apiErr := &apiError{Status: status, Message: strings.TrimSpace(string(payload))}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(payload, &envelope) == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
