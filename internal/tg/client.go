package tg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.telegram.org"

type Client struct {
	baseURL      string
	hc           *http.Client
	limiter      *rate.Limiter
	maxFloodWait time.Duration
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithRateLimit caps outbound calls per second across all chats.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxFloodWait bounds how long a single call may sleep on retry_after.
func WithMaxFloodWait(d time.Duration) Option {
	return func(c *Client) { c.maxFloodWait = d }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      defaultBaseURL,
		hc:           &http.Client{Timeout: 40 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(25), 5),
		maxFloodWait: 60 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	c.baseURL = fmt.Sprintf("%s/bot%s", c.baseURL, token)
	return c
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "/getMe", map[string]any{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := c.call(ctx, "/getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}, &out)
	return out, err
}

func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "/deleteWebhook", map[string]any{"drop_pending_updates": dropPending}, nil)
}

func (c *Client) SetWebhook(ctx context.Context, url string, secret string) error {
	payload := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if secret != "" {
		payload["secret_token"] = secret
	}
	return c.call(ctx, "/setWebhook", payload, nil)
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string) error {
	payload := map[string]any{"callback_query_id": callbackQueryID}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "/answerCallbackQuery", payload, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return c.call(ctx, "/deleteMessage", map[string]any{"chat_id": chatID, "message_id": messageID}, nil)
}

func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*Message, error) {
	var m Message
	if err := c.call(ctx, "/sendMessage", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) SendPhoto(ctx context.Context, req SendPhotoRequest) (*Message, error) {
	var m Message
	if err := c.call(ctx, "/sendPhoto", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) SendVideo(ctx context.Context, req SendFileRequest) error {
	return c.call(ctx, "/sendVideo", fileParams(req, "video"), nil)
}

func (c *Client) SendDocument(ctx context.Context, req SendFileRequest) error {
	return c.call(ctx, "/sendDocument", fileParams(req, "document"), nil)
}

func fileParams(req SendFileRequest, field string) map[string]any {
	p := map[string]any{"chat_id": req.ChatID, field: req.File}
	if req.Caption != "" {
		p["caption"] = req.Caption
	}
	if req.ParseMode != "" {
		p["parse_mode"] = req.ParseMode
	}
	return p
}

func (c *Client) EditMessageText(ctx context.Context, req EditMessageTextRequest) error {
	return c.call(ctx, "/editMessageText", req, nil)
}

func (c *Client) CopyMessage(ctx context.Context, toChatID int64, fromChatID int64, messageID int) (int, error) {
	var result struct {
		MessageID int `json:"message_id"`
	}
	if err := c.call(ctx, "/copyMessage", map[string]any{"chat_id": toChatID, "from_chat_id": fromChatID, "message_id": messageID}, &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

// GetChatMember accepts a numeric id or an @channelusername as chatID.
func (c *Client) GetChatMember(ctx context.Context, chatID string, userID int64) (*ChatMember, error) {
	var m ChatMember
	if err := c.call(ctx, "/getChatMember", map[string]any{"chat_id": chatID, "user_id": userID}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// call performs method once and, when Telegram answers with retry_after,
// sleeps for that long and performs it exactly one more time. A wait that
// would outlive ctx's deadline is not attempted.
func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	err := c.do(ctx, method, payload, out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 {
		return err
	}
	wait := apiErr.RetryAfter
	if c.maxFloodWait > 0 && wait > c.maxFloodWait {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
		return err
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-t.C:
	}
	return c.do(ctx, method, payload, out)
}

func (c *Client) do(ctx context.Context, method string, payload any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram api %s: encode: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	var wrapper struct {
		Ok          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil || !wrapper.Ok {
		apiErr := &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Code:        wrapper.ErrorCode,
			Description: wrapper.Description,
			RetryAfter:  time.Duration(wrapper.Parameters.RetryAfter) * time.Second,
		}
		if apiErr.Description == "" {
			apiErr.Description = strings.TrimSpace(string(truncate(body, 512)))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(wrapper.Result, out); err != nil {
		return fmt.Errorf("telegram api %s: decode result: %w", method, err)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
