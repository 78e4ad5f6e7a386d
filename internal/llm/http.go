package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiErrorBody is the OpenAI-compatible error envelope.
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// postJSON sends body to url and decodes a 200 response into out. Non-200
// responses are classified into the oracle error kinds.
func postJSON(ctx context.Context, client *http.Client, provider, url, apiKey string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s API error: %w", provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError(provider, resp.StatusCode, resp.Header, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", provider, err)
	}
	return nil
}

// classifyHTTPError maps an OpenAI-style error response to an error kind.
func classifyHTTPError(provider string, status int, header http.Header, body []byte) error {
	var envelope apiErrorBody
	_ = json.Unmarshal(body, &envelope)

	msg := envelope.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	err := fmt.Errorf("%s API returned status %d: %s", provider, status, msg)

	if status == http.StatusPaymentRequired || isQuotaSignal(envelope.Error.Code, envelope.Error.Type, msg) {
		return NewQuotaError(err)
	}
	if status == http.StatusTooManyRequests {
		return NewRateLimitError(err, retryAfterFromHeader(header))
	}
	return err
}

func isQuotaSignal(code, typ, msg string) bool {
	if code == "insufficient_quota" || typ == "insufficient_quota" {
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "billing")
}

func retryAfterFromHeader(h http.Header) time.Duration {
	if ms := h.Get("retry-after-ms"); ms != "" {
		if d := parseRetryAfterHeader(ms); d > 0 {
			return d / 1000
		}
	}
	return parseRetryAfterHeader(h.Get("Retry-After"))
}
