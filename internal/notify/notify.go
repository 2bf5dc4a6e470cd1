// Package notify pushes trade events to an operator chat.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/market-relister/internal/types"
)

// Notifier delivers operator messages
type Notifier interface {
	SendText(ctx context.Context, text string) error
	SendImage(ctx context.Context, imageURL, caption string) error
}

// Nop drops every message
type Nop struct{}

func (Nop) SendText(context.Context, string) error          { return nil }
func (Nop) SendImage(context.Context, string, string) error { return nil }

// Telegram sends through the Bot API
type Telegram struct {
	client *resty.Client
	token  string
	chatID string
}

func NewTelegram(baseURL, token, chatID string, timeout time.Duration) *Telegram {
	return &Telegram{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(timeout),
		token:  token,
		chatID: chatID,
	}
}

func (t *Telegram) SendText(ctx context.Context, text string) error {
	return t.post(ctx, "sendMessage", map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
}

func (t *Telegram) SendImage(ctx context.Context, imageURL, caption string) error {
	return t.post(ctx, "sendPhoto", map[string]string{
		"chat_id": t.chatID,
		"photo":   imageURL,
		"caption": caption,
	})
}

func (t *Telegram) post(ctx context.Context, method string, form map[string]string) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(fmt.Sprintf("/bot%s/%s", t.token, method))
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("telegram %s: HTTP %d", method, resp.StatusCode())
	}
	return nil
}

// BuyCaption formats the message attached to a bought item's image
func BuyCaption(item types.Item) string {
	return fmt.Sprintf("%s (%d)\nid: %d, price: %dcc", item.Name, item.Template, item.ID, item.Price)
}

// SoldCaption formats the message for a newly recorded sale
func SoldCaption(rec types.SoldRecord) string {
	return fmt.Sprintf("sold %s (%d)\nid: %d, price: %dcc", rec.Name, rec.Template, rec.ItemID, rec.Price)
}
