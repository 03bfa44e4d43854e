package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/telhawk-systems/flowguard/internal/models"
)

// Message is an alert rendered for delivery.
type Message struct {
	Service      string
	Reason       string
	Severity     string
	Text         string
	ErrorRate    float64
	P95LatencyMs int
	TPS          float64
	Timestamp    time.Time
}

// NewMessage renders a trigger raised against a snapshot.
func NewMessage(snap *models.KPISnapshot, trigger models.Trigger) *Message {
	return &Message{
		Service:      snap.Service,
		Reason:       trigger.Reason,
		Severity:     trigger.Severity,
		Text:         trigger.Message,
		ErrorRate:    snap.ErrorRate,
		P95LatencyMs: snap.P95LatencyMs,
		TPS:          snap.TPS,
		Timestamp:    snap.Timestamp,
	}
}

// Stats is the one-line KPI summary shared by all channels.
func (m *Message) Stats() string {
	return fmt.Sprintf("Error rate: %.2f%%, p95 latency: %dms, TPS: %.2f",
		m.ErrorRate*100, m.P95LatencyMs, m.TPS)
}

// Subject is the email subject line.
func (m *Message) Subject() string {
	return "FlowGuard alert: " + m.Service
}

// Body is the plain-text email body.
func (m *Message) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Service: %s\n", m.Service)
	fmt.Fprintf(&b, "Reason: %s\n", m.Text)
	fmt.Fprintf(&b, "Severity: %s\n", m.Severity)
	fmt.Fprintf(&b, "Error rate: %.2f%%\n", m.ErrorRate*100)
	fmt.Fprintf(&b, "p95 latency: %dms\n", m.P95LatencyMs)
	fmt.Fprintf(&b, "TPS: %.2f\n", m.TPS)
	return b.String()
}

// Channel delivers messages to one destination.
type Channel interface {
	Send(ctx context.Context, msg *Message) error
	Type() string
	// Configured reports whether the channel has the settings it needs.
	Configured() bool
}

// SlackChannel posts alerts to a Slack incoming webhook.
type SlackChannel struct {
	WebhookURL string
	Timeout    time.Duration
	client     *http.Client
}

// NewSlackChannel creates a Slack notification channel.
func NewSlackChannel(webhookURL string, timeout time.Duration) *SlackChannel {
	return &SlackChannel{
		WebhookURL: webhookURL,
		Timeout:    timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *SlackChannel) Type() string {
	return models.ChannelSlack
}

func (s *SlackChannel) Configured() bool {
	return s.WebhookURL != ""
}

func (s *SlackChannel) Send(ctx context.Context, msg *Message) error {
	payload := map[string]interface{}{
		"text": fmt.Sprintf("*FlowGuard alert* for `%s`\n%s\n%s", msg.Service, msg.Text, msg.Stats()),
		"attachments": []map[string]interface{}{
			{
				"color": severityColor(msg.Severity),
				"fields": []map[string]interface{}{
					{"title": "Service", "value": msg.Service, "short": true},
					{"title": "Severity", "value": msg.Severity, "short": true},
					{"title": "Reason", "value": msg.Reason, "short": true},
				},
				"footer": "FlowGuard",
				"ts":     msg.Timestamp.Unix(),
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "FlowGuard/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func severityColor(severity string) string {
	switch severity {
	case models.SeverityCritical:
		return "#8B0000"
	case models.SeverityWarn:
		return "#FFA500"
	case models.SeverityInfo:
		return "#0000FF"
	default:
		return "#808080"
	}
}
