// Package alert delivers human-visible notifications through an HTTP
// webhook (a Feishu group bot). Delivery is fire-and-forget: failures are
// logged and never propagate into the scheduling loop.
package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/photonlab/phosflow/internal/logging"
)

// Notifier posts alert messages to a webhook endpoint.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     *logging.Logger
	now        func() time.Time

	mu      sync.RWMutex
	enabled bool
}

// payload is the text-message body the bot endpoint expects.
type payload struct {
	MsgType string  `json:"msg_type"`
	Content content `json:"content"`
}

type content struct {
	Text string `json:"text"`
}

// NewNotifier creates a notifier for the given webhook URL. An empty URL
// yields a disabled notifier.
func NewNotifier(webhookURL string, enabled bool, logger *logging.Logger) *Notifier {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	client := retryClient.StandardClient()
	client.Timeout = 10 * time.Second

	return &Notifier{
		webhookURL: webhookURL,
		client:     client,
		logger:     logger,
		now:        time.Now,
		enabled:    enabled && webhookURL != "",
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled && n.webhookURL != ""
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// Send delivers one alert with a title and a body. Errors are logged, never
// returned: a broken webhook must not stall the controller.
func (n *Notifier) Send(title, message string) {
	if !n.IsEnabled() {
		return
	}

	n.logger.Warn().Str("title", title).Msg("Alert: " + message)

	// The bot's keyword filter requires the word "Alert" in the text.
	text := fmt.Sprintf("🚨 [PhosFlow Alert]\n**%s**\n----------------\n%s\n\n时间: %s",
		title, message, n.now().Format("2006-01-02 15:04:05"))

	if err := n.post(text); err != nil {
		n.logger.Error().Err(err).Str("title", title).Msg("Failed to send webhook alert")
	}
}

func (n *Notifier) post(text string) error {
	body, err := json.Marshal(payload{
		MsgType: "text",
		Content: content{Text: text},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Truncate shortens a string to maxLen, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Tail returns the final n bytes of s, for diagnostic truncation of long
// error logs.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
