// Package monitoring implements out-of-band operator alerting for
// conditions the core treats as recoverable but an operator should still
// hear about. The one thing this server ever alerts on is a pixel edit the
// Applier could not durably apply (spec.md §4.6/§7's exhausted-retry case),
// so the payload is shaped around that: a coordinate, the user behind it,
// and a reason, not a generic metadata bag. Delivery mechanics (Slack
// webhook shape, color/emoji-by-severity, best-effort POST) are adapted
// from the teacher's internal/shared/monitoring/alerting.go.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Level is the severity of an alert.
type Level string

const (
	Info     Level = "info"
	Warning  Level = "warning"
	Error    Level = "error"
	Critical Level = "critical"
)

// Event is a single operator-facing notification. X/Y/UserID trace the
// alert back to the pixel edit that triggered it; Region names the lock
// rectangle instead when the alert concerns a moderation region rather
// than one coordinate (e.g. a future lock-churn alert). Region is omitted
// from the rendered payload when empty; an empty UserID renders as
// "anonymous" when HasXY is set and is omitted otherwise.
type Event struct {
	Level  Level
	Reason string

	X, Y   int
	HasXY  bool
	UserID string
	Region string
}

// Alerter sends a notification to an external channel. Implementations:
// Slack, console (dev/test).
type Alerter interface {
	Alert(evt Event)
}

// Multi fans an alert out to every configured Alerter concurrently.
type Multi struct {
	alerters []Alerter
}

// NewMulti combines several alerters into one.
func NewMulti(alerters ...Alerter) *Multi {
	return &Multi{alerters: alerters}
}

// Alert dispatches to every configured alerter in its own goroutine so a
// slow webhook never blocks the caller (the Applier's flush loop).
func (m *Multi) Alert(evt Event) {
	for _, a := range m.alerters {
		go a.Alert(evt)
	}
}

// SlackAlerter posts formatted alerts to a Slack incoming webhook.
type SlackAlerter struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackAlerter builds a Slack webhook alerter. An empty webhookURL
// makes Alert a no-op, so this type is safe to construct unconditionally.
func NewSlackAlerter(webhookURL, channel, username string) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// fields renders the canvas-domain facts of evt as Slack attachment
// fields, in a fixed order, instead of iterating an arbitrary metadata map.
func fields(evt Event) []map[string]any {
	out := make([]map[string]any, 0, 3)
	if evt.HasXY {
		out = append(out, map[string]any{
			"title": "Pixel",
			"value": fmt.Sprintf("(%d, %d)", evt.X, evt.Y),
			"short": true,
		})
	}
	if evt.UserID != "" {
		out = append(out, map[string]any{"title": "User", "value": evt.UserID, "short": true})
	} else if evt.HasXY {
		out = append(out, map[string]any{"title": "User", "value": "anonymous", "short": true})
	}
	if evt.Region != "" {
		out = append(out, map[string]any{"title": "Region", "value": evt.Region, "short": true})
	}
	return out
}

func (s *SlackAlerter) Alert(evt Event) {
	if s.webhookURL == "" {
		return
	}

	payload := map[string]any{
		"username": s.username,
		"channel":  s.channel,
		"text":     fmt.Sprintf("%s *%s*", emoji(evt.Level), evt.Level),
		"attachments": []map[string]any{
			{
				"color":     color(evt.Level),
				"title":     evt.Reason,
				"fields":    fields(evt),
				"timestamp": time.Now().Unix(),
				"footer":    "pixelboard",
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	// Best-effort: alerting must never surface an error to the caller.
	_, _ = s.client.Post(s.webhookURL, "application/json", bytes.NewBuffer(body))
}

func color(level Level) string {
	switch level {
	case Critical, Error:
		return "danger"
	case Warning:
		return "warning"
	default:
		return "good"
	}
}

func emoji(level Level) string {
	switch level {
	case Critical:
		return ":rotating_light:"
	case Error:
		return ":x:"
	case Warning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

// ConsoleAlerter logs alerts to stdout. Lifecycle always wires it in next
// to the SlackAlerter, so alerts stay visible when no webhook is configured.
type ConsoleAlerter struct{}

func NewConsoleAlerter() *ConsoleAlerter { return &ConsoleAlerter{} }

func (c *ConsoleAlerter) Alert(evt Event) {
	if evt.HasXY {
		fmt.Printf("ALERT [%s]: %s pixel=(%d,%d) user=%q\n", evt.Level, evt.Reason, evt.X, evt.Y, evt.UserID)
		return
	}
	fmt.Printf("ALERT [%s]: %s region=%q\n", evt.Level, evt.Reason, evt.Region)
}
