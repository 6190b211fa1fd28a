// Package mail delivers templated transactional mail through an external
// HTTP delivery API. The rest of the service treats delivery as
// fire-and-forget; retry lives here.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"campus-gateway/internal/observability"
)

const (
	KindPasswordReset = "password_reset"
	KindWelcome       = "welcome"
)

type Client struct {
	apiURL     string
	apiKey     string
	from       string
	httpClient *http.Client
	attempts   int
}

type sendRequest struct {
	From     string            `json:"from"`
	To       string            `json:"to"`
	Template string            `json:"template"`
	Vars     map[string]string `json:"variables"`
}

type sendResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewClient(apiURL, apiKey, from string) (*Client, error) {
	apiURL = strings.TrimSpace(apiURL)
	if apiURL == "" {
		return nil, fmt.Errorf("missing mail api url")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("missing mail api key")
	}

	return &Client{
		apiURL: apiURL,
		apiKey: apiKey,
		from:   from,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		attempts: 3,
	}, nil
}

// Send posts one templated message. Transient failures (network errors and
// 5xx) are retried with a short backoff inside the caller's deadline; 4xx is
// terminal.
func (c *Client) Send(ctx context.Context, to, kind string, vars map[string]string) error {
	payload, err := json.Marshal(sendRequest{
		From:     c.from,
		To:       to,
		Template: kind,
		Vars:     vars,
	})
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retryable, err := c.post(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}

	return fmt.Errorf("mail delivery failed after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) post(ctx context.Context, payload []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("mail request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, fmt.Errorf("read mail response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	var parsed sendResponse
	message := ""
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		message = parsed.Error.Message
	}
	if message == "" {
		message = fmt.Sprintf("status %d", resp.StatusCode)
	}

	return resp.StatusCode >= 500, fmt.Errorf("mail delivery rejected: %s", message)
}

// LogMailer is the no-delivery fallback for environments without a mail API.
// It records the send so local flows can be followed end to end.
type LogMailer struct {
	logger *observability.Logger
}

func NewLogMailer(logger *observability.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, to, kind string, vars map[string]string) error {
	fields := map[string]any{"to": to, "template": kind}
	for k, v := range vars {
		fields["var_"+k] = v
	}
	m.logger.Info("mail_send_skipped", fields)
	return nil
}
