package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"immoledger/server/internal/errs"
)

const maxResponseBody = 1 << 20

// doJSON sends body as JSON and decodes a JSON response into out. Non-2xx
// responses come back as *errs.GatewayError carrying the response text.
func doJSON(ctx context.Context, client *http.Client, provider, method, url string, headers map[string]string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", provider, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", provider, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return transportError(provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return transportError(provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errs.GatewayError{
			Provider: provider,
			Message:  fmt.Sprintf("HTTP %d: %s", resp.StatusCode, Truncate(string(raw), 300)),
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &errs.GatewayError{Provider: provider, Message: "unreadable response: " + err.Error()}
		}
	}
	return nil
}

func transportError(provider string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &errs.GatewayError{Provider: provider, Message: "no response before timeout", Timeout: true}
	}
	return &errs.GatewayError{Provider: provider, Message: err.Error()}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ErrInvalidSignature rejects a webhook whose signature does not match.
var ErrInvalidSignature = errors.New("invalid webhook signature")

func verifySignature(secret string, payload []byte, signature string) error {
	if secret == "" {
		return nil
	}
	expected := Sign(secret, payload)
	if !hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}
