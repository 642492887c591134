package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	breakerFailures       = 3
	breakerOpenFor        = time.Minute
	webhookBodyLimit      = 512
)

// webhook posts JSON to one endpoint through a circuit breaker.
type webhook struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newWebhook(name, url string, client *http.Client, timeout time.Duration) *webhook {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &webhook{
		url:    url,
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     breakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
		}),
	}
}

func (w *webhook) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	_, err = w.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := w.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, webhookBodyLimit))
			return nil, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	})
	return err
}

// SlackChannel posts an attachments payload to an incoming webhook.
type SlackChannel struct {
	hook *webhook
	now  func() time.Time
}

func NewSlackChannel(url string, client *http.Client, timeout time.Duration) *SlackChannel {
	return &SlackChannel{hook: newWebhook("slack", url, client, timeout), now: time.Now}
}

func (c *SlackChannel) Name() string { return "slack" }

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color     string `json:"color"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	TitleLink string `json:"title_link,omitempty"`
	Footer    string `json:"footer"`
	Ts        int64  `json:"ts"`
}

func (c *SlackChannel) Deliver(ctx context.Context, msg Message) error {
	return c.hook.post(ctx, slackPayload{Attachments: []slackAttachment{{
		Color:     msg.Color(),
		Title:     msg.Subject,
		Text:      msg.Body,
		TitleLink: msg.Link,
		Footer:    msg.SiteName,
		Ts:        c.now().Unix(),
	}}})
}

// TeamsChannel posts a MessageCard to an incoming webhook.
type TeamsChannel struct {
	hook *webhook
}

func NewTeamsChannel(url string, client *http.Client, timeout time.Duration) *TeamsChannel {
	return &TeamsChannel{hook: newWebhook("teams", url, client, timeout)}
}

func (c *TeamsChannel) Name() string { return "teams" }

type teamsCard struct {
	Type            string        `json:"@type"`
	Context         string        `json:"@context"`
	ThemeColor      string        `json:"themeColor"`
	Title           string        `json:"title"`
	Text            string        `json:"text"`
	PotentialAction []teamsAction `json:"potentialAction,omitempty"`
}

type teamsAction struct {
	Type    string        `json:"@type"`
	Name    string        `json:"name"`
	Targets []teamsTarget `json:"targets"`
}

type teamsTarget struct {
	OS  string `json:"os"`
	URI string `json:"uri"`
}

func (c *TeamsChannel) Deliver(ctx context.Context, msg Message) error {
	card := teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: msg.Color(),
		Title:      msg.Subject,
		Text:       msg.Body,
	}
	if msg.Link != "" {
		card.PotentialAction = []teamsAction{{
			Type:    "OpenUri",
			Name:    "View Details",
			Targets: []teamsTarget{{OS: "default", URI: msg.Link}},
		}}
	}
	return c.hook.post(ctx, card)
}
