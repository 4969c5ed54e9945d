package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// CommandHandler answers one chat message from a subscriber.
type CommandHandler func(ctx context.Context, subscriberID, text string) string

// Telegram sends notifications as bot messages. Subscriber ids are Telegram chat ids.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

// NewTelegram authenticates the bot token. A nil client uses http.DefaultClient.
func NewTelegram(token string, client *http.Client) (*Telegram, error) {
	if client == nil {
		client = http.DefaultClient
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	slog.Info("telegram bot authorised", slog.String("username", bot.Self.UserName))
	return &Telegram{bot: bot}, nil
}

// Notify sends the formatted message for n to the subscriber's chat.
func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	return t.Send(ctx, n.SubscriberID, FormatMessage(n))
}

// Send delivers text to a chat.
func (t *Telegram) Send(ctx context.Context, subscriberID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(subscriberID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", subscriberID, err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Serve long-polls for incoming messages and replies with handle's answer until ctx
// is cancelled.
func (t *Telegram) Serve(ctx context.Context, handle CommandHandler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update, handle)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update, handle CommandHandler) {
	if update.Message == nil || update.Message.Chat == nil || update.Message.Text == "" {
		return
	}
	subscriberID := strconv.FormatInt(update.Message.Chat.ID, 10)
	reply := handle(ctx, subscriberID, update.Message.Text)
	if reply == "" {
		return
	}
	if err := t.Send(ctx, subscriberID, reply); err != nil {
		slog.Warn("telegram reply failed", slog.String("subscriber", subscriberID), slog.Any("error", err))
	}
}
