// Package telegram sends operational alerts about the refresh cycle via the Telegram Bot API.
// Messages use MarkdownV2 and delivery is retried with a linear backoff.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the part of tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	now            func() time.Time
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		now:            time.Now,
	}, nil
}

// NotifyFailure reports the first failed refresh of a streak.
func (c *Client) NotifyFailure(ctx context.Context, runID string, err error) error {
	return c.send(ctx, formatFailure(runID, err, c.now()))
}

// NotifyRecovery reports a successful refresh ending a streak of failures.
func (c *Client) NotifyRecovery(ctx context.Context, failures int) error {
	return c.send(ctx, formatRecovery(failures, c.now()))
}

func (c *Client) send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("notification aborted: %w", ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

func formatFailure(runID string, err error, at time.Time) string {
	var b strings.Builder
	b.WriteString("🚨 *Market refresh failed*\n\n")
	fmt.Fprintf(&b, "📅 %s\n", escapeMarkdownV2(at.UTC().Format("2006-01-02 15:04:05 MST")))
	if runID != "" {
		fmt.Fprintf(&b, "🆔 `%s`\n", escapeMarkdownV2(runID))
	}
	if err != nil {
		fmt.Fprintf(&b, "\n%s\n", escapeMarkdownV2(err.Error()))
	}
	b.WriteString("\nServing continues from the last good cache\\.")
	return b.String()
}

func formatRecovery(failures int, at time.Time) string {
	runs := "run"
	if failures != 1 {
		runs = "runs"
	}
	return fmt.Sprintf("✅ *Market refresh recovered*\n\n📅 %s\nSucceeded after %d failed %s\\.",
		escapeMarkdownV2(at.UTC().Format("2006-01-02 15:04:05 MST")), failures, runs)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
