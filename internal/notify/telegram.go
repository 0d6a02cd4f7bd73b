package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/price-monitor-bot/internal/config"
	"github.com/price-monitor-bot/internal/types"
)

// Telegram delivers notifications through the Bot API sendMessage method
type Telegram struct {
	client   *resty.Client
	token    string
	chatID   string
	currency string
	pageURL  string
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func NewTelegram(cfg config.TelegramConfig, monitor config.MonitorConfig) *Telegram {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Telegram{
		client:   client,
		token:    cfg.Token,
		chatID:   cfg.ChatID,
		currency: monitor.Currency,
		pageURL:  monitor.URL,
	}
}

// Notify formats and sends n
func (t *Telegram) Notify(ctx context.Context, n types.Notification) error {
	return t.Send(ctx, t.Format(n))
}

// Send posts a plain text message to the configured chat
func (t *Telegram) Send(ctx context.Context, text string) error {
	var result apiResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{ChatID: t.chatID, Text: text}).
		SetResult(&result).
		SetError(&result).
		Post("/bot" + t.token + "/sendMessage")
	if err != nil {
		// resty errors embed the request URL, which carries the token
		return fmt.Errorf("send message: %s", strings.ReplaceAll(err.Error(), t.token, "***"))
	}

	if resp.IsError() || !result.OK {
		return fmt.Errorf("telegram API: HTTP %d: %s", resp.StatusCode(), result.Description)
	}

	return nil
}

// Format renders the message text for n
func (t *Telegram) Format(n types.Notification) string {
	switch n.Kind {
	case types.NotifyStarted:
		return fmt.Sprintf("Monitoring started\nCurrent price: %s\nTarget: below %s\n%s",
			t.money(n.Price), t.money(n.Threshold), t.pageURL)
	case types.NotifyBelowThreshold:
		return fmt.Sprintf("PRICE BELOW %s!\nNow: %s\n%s",
			t.money(n.Threshold), t.money(n.Price), t.pageURL)
	case types.NotifyDailyReport:
		return fmt.Sprintf("Daily report for %s\nMinimum price: %s\nCurrent price: %s\n%s",
			n.ReportDate, t.money(n.DailyMin), t.money(n.Price), t.pageURL)
	default:
		return fmt.Sprintf("%s: %s", n.Kind, t.money(n.Price))
	}
}

func (t *Telegram) money(v float64) string {
	if t.currency == "" {
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("%.2f %s", v, t.currency)
}
