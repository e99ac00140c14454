// Package chatwoot provides the REST client and webhook payload handling
// for the Chatwoot WhatsApp channel.
package chatwoot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/echoposthq/echopost/pkg/logging"
)

// SelectItem is one choice offered in an input_select message.
type SelectItem struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// messagePayload is the body for the create-message endpoint.
type messagePayload struct {
	Content           string         `json:"content"`
	MessageType       string         `json:"message_type"`
	ContentType       string         `json:"content_type,omitempty"`
	Private           bool           `json:"private"`
	ContentAttributes map[string]any `json:"content_attributes,omitempty"`
}

// Message is the Chatwoot message object returned by the API.
type Message struct {
	ID             int    `json:"id"`
	Content        string `json:"content"`
	ConversationID int    `json:"conversation_id"`
	ContentType    string `json:"content_type"`
	CreatedAt      int64  `json:"created_at"`
}

// ClientConfig configures the Chatwoot REST client.
type ClientConfig struct {
	BaseURL   string
	APIToken  string
	AccountID int
	Timeout   time.Duration
	Logger    *logging.Logger
}

// Client talks to the Chatwoot account API. All outbound messages the
// system ever sends go through here.
type Client struct {
	http      *resty.Client
	accountID int
	logger    *logging.Logger
}

// NewClient builds a Chatwoot client for one account.
func NewClient(cfg ClientConfig) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		panic("chatwoot: base URL cannot be empty")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		panic("chatwoot: API token cannot be empty")
	}
	if cfg.AccountID <= 0 {
		panic("chatwoot: account ID must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("api_access_token", cfg.APIToken).
		SetTimeout(timeout)

	return &Client{
		http:      httpClient,
		accountID: cfg.AccountID,
		logger:    logger.Component("chatwoot"),
	}
}

// SendText posts a plain outgoing text message to a conversation.
func (c *Client) SendText(ctx context.Context, conversationID int, content string) (*Message, error) {
	return c.createMessage(ctx, conversationID, messagePayload{
		Content:     content,
		MessageType: "outgoing",
	})
}

// SendInputSelect posts an outgoing quick-reply menu. Chatwoot renders
// the items as selectable choices on channels that support them.
func (c *Client) SendInputSelect(ctx context.Context, conversationID int, content string, items []SelectItem) (*Message, error) {
	if len(items) == 0 {
		return c.SendText(ctx, conversationID, content)
	}
	return c.createMessage(ctx, conversationID, messagePayload{
		Content:           content,
		MessageType:       "outgoing",
		ContentType:       "input_select",
		ContentAttributes: map[string]any{"items": items},
	})
}

func (c *Client) createMessage(ctx context.Context, conversationID int, payload messagePayload) (*Message, error) {
	url := fmt.Sprintf("/api/v1/accounts/%d/conversations/%d/messages", c.accountID, conversationID)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&Message{}).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("chatwoot: create message: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("chatwoot: create message: status %s: %s", resp.Status(), resp.String())
	}

	msg := resp.Result().(*Message)
	c.logger.Debug("message sent", "conversation_id", conversationID, "message_id", msg.ID, "content_type", payload.ContentType)
	return msg, nil
}

// DownloadAttachment fetches attachment bytes from the URL a webhook
// delivered. Chatwoot serves these from the same host, so the client's
// auth header rides along.
func (c *Client) DownloadAttachment(ctx context.Context, url string) ([]byte, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("chatwoot: attachment URL cannot be empty")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("chatwoot: download attachment: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("chatwoot: download attachment: status %s", resp.Status())
	}
	return resp.Body(), nil
}
