package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeBot struct {
	failures int
	sent     []tgbotapi.MessageConfig
	calls    int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	if f.calls <= f.failures {
		return tgbotapi.Message{}, errors.New("too many requests")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

var fixed = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, bot *fakeBot, retries int) *Client {
	t.Helper()
	c, err := newClient(bot, "-100123", retries, time.Millisecond)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	c.now = func() time.Time { return fixed }
	return c
}

func TestNewClientBadChatID(t *testing.T) {
	if _, err := newClient(&fakeBot{}, "not-a-number", 3, time.Second); err == nil {
		t.Fatal("expected error for invalid chat id")
	}
}

func TestNotifyFailure(t *testing.T) {
	bot := &fakeBot{}
	c := newTestClient(t, bot, 3)

	if err := c.NotifyFailure(context.Background(), "run-1", errors.New("build batch: no records")); err != nil {
		t.Fatalf("NotifyFailure: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(bot.sent))
	}

	msg := bot.sent[0]
	if msg.ChatID != -100123 {
		t.Errorf("unexpected chat id %d", msg.ChatID)
	}
	if msg.ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("unexpected parse mode %q", msg.ParseMode)
	}
	for _, want := range []string{"refresh failed", "run\\-1", "2025\\-06\\-01 12:00:00 UTC", "no records"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestNotifyRecovery(t *testing.T) {
	tests := []struct {
		failures int
		want     string
	}{
		{1, "after 1 failed run\\."},
		{4, "after 4 failed runs\\."},
	}
	for _, tt := range tests {
		bot := &fakeBot{}
		c := newTestClient(t, bot, 3)
		if err := c.NotifyRecovery(context.Background(), tt.failures); err != nil {
			t.Fatalf("NotifyRecovery: %v", err)
		}
		if !strings.Contains(bot.sent[0].Text, tt.want) {
			t.Errorf("recovery message missing %q:\n%s", tt.want, bot.sent[0].Text)
		}
	}
}

func TestSendRetries(t *testing.T) {
	bot := &fakeBot{failures: 2}
	c := newTestClient(t, bot, 3)

	if err := c.NotifyRecovery(context.Background(), 1); err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	if bot.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", bot.calls)
	}
}

func TestSendGivesUp(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c := newTestClient(t, bot, 2)

	if err := c.NotifyRecovery(context.Background(), 1); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if bot.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", bot.calls)
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a.b", "a\\.b"},
		{"50% (est)", "50% \\(est\\)"},
		{"x_y*z", "x\\_y\\*z"},
		{"c:\\tmp", "c:\\\\tmp"},
	}
	for _, tt := range tests {
		if got := escapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
