// Package telegram is a minimal Telegram Bot API client for sending messages
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
	"github.com/go-resty/resty/v2"
)

const (
	DefaultAPIURL  = "https://api.telegram.org"
	DefaultTimeout = 10 * time.Second
)

// Config holds the bot settings
type Config struct {
	Token   string
	APIURL  string
	Timeout time.Duration
}

type Client struct {
	client *resty.Client
	token  string
}

// NewClient creates a client for the bot identified by cfg.Token
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: telegram bot token", errors.ErrNotConfigured)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		client: resty.New().
			SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
			SetTimeout(cfg.Timeout),
		token: cfg.Token,
	}, nil
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// SendMessage posts a message to a chat
func (c *Client) SendMessage(ctx context.Context, chatID, text, parseMode string) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetPathParam("token", c.token).
		SetBody(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: parseMode}).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram request failed: %s", c.redact(err.Error()))
	}

	var reply apiResponse
	if len(res.Body()) > 0 {
		if err := json.Unmarshal(res.Body(), &reply); err != nil && res.IsSuccess() {
			return fmt.Errorf("error parsing telegram response: %w", err)
		}
	}

	if !res.IsSuccess() || !reply.OK {
		logger.LogDebug("Telegram returned error", map[string]interface{}{
			"status_code": res.StatusCode(),
			"description": reply.Description,
		})
		description := reply.Description
		if description == "" {
			description = res.Status()
		}
		return fmt.Errorf("telegram api error (status %d): %s", res.StatusCode(), description)
	}

	return nil
}

// redact keeps the bot token out of error messages, which include the request URL
func (c *Client) redact(s string) string {
	return strings.ReplaceAll(s, c.token, "<redacted>")
}
