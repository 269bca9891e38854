// Package line talks to the LINE platform: Messaging API pushes, LINE Login code
// exchange with ID-token verification, and inbound webhook parsing.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"estimate_backend/platform/config"
	"estimate_backend/platform/logger"

	"github.com/google/uuid"
)

const detailsActionLabel = "詳細を入力する"

// ErrMessagingDisabled is returned by a nil client, so callers keep their pending state.
var ErrMessagingDisabled = errors.New("line messaging is not configured")

type MessagingClient struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
}

type pushRequest struct {
	To       string    `json:"to"`
	Messages []message `json:"messages"`
}

type message struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	AltText  string    `json:"altText,omitempty"`
	Template *template `json:"template,omitempty"`
}

type template struct {
	Type    string   `json:"type"`
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text"`
	Actions []action `json:"actions"`
}

type action struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	URI   string `json:"uri"`
}

// NewMessagingClient returns nil when no channel access token is configured.
func NewMessagingClient(cfg config.LineConfig, log *logger.Logger) *MessagingClient {
	if !cfg.IsLineMessagingEnabled() {
		return nil
	}

	return &MessagingClient{
		baseURL: strings.TrimRight(cfg.GetLineAPIBaseURL(), "/"),
		token:   cfg.GetLineChannelAccessToken(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// PushText sends a plain text message.
func (c *MessagingClient) PushText(ctx context.Context, identity, text string) error {
	if c == nil {
		return ErrMessagingDisabled
	}
	return c.push(ctx, identity, message{Type: "text", Text: text})
}

// PushTemplate sends a buttons template with a single link action.
func (c *MessagingClient) PushTemplate(ctx context.Context, identity, title, body, actionURL string) error {
	if c == nil {
		return ErrMessagingDisabled
	}
	return c.push(ctx, identity, message{
		Type:    "template",
		AltText: title,
		Template: &template{
			Type:    "buttons",
			Title:   title,
			Text:    body,
			Actions: []action{{Type: "uri", Label: detailsActionLabel, URI: actionURL}},
		},
	})
}

func (c *MessagingClient) push(ctx context.Context, identity string, msg message) error {
	body, err := json.Marshal(pushRequest{To: identity, Messages: []message{msg}})
	if err != nil {
		return fmt.Errorf("marshal line payload: %w", err)
	}

	url := fmt.Sprintf("%s/v2/bot/message/push", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Line-Retry-Key", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("line push request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("line push returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	c.log.Debug("line push sent", "identity", identity, "type", msg.Type)
	return nil
}
