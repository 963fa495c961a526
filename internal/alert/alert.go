package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Notifier delivers operator alerts to a Telegram ops channel.
type Notifier struct {
	bot    *bot.Bot
	chatID int64
	log    *slog.Logger
}

// New creates a new alert notifier
func New(token string, chatID int64, log *slog.Logger) (*Notifier, error) {
	tgBot, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	return &Notifier{
		bot:    tgBot,
		chatID: chatID,
		log:    log,
	}, nil
}

// Alert sends a message to the ops channel. Delivery failures are logged,
// never propagated: alerting is best-effort and must not affect settlement.
func (n *Notifier) Alert(ctx context.Context, text string) {
	disablePreview := true
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	if err != nil {
		n.log.Error("send ops alert", "error", err)
	}
}
