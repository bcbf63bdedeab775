package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/eventgreen/notifybot/config"
	"github.com/eventgreen/notifybot/internal/scheduler"
	"github.com/eventgreen/notifybot/internal/service"
	"github.com/eventgreen/notifybot/internal/storage"
)

// Bot is the Telegram command surface and the delivery channel in one:
// the dispatcher sends digests through SendMessage, and users mutate
// their notification settings through the commands below.
type Bot struct {
	api    *tgbotapi.BotAPI
	cfg    *config.Config
	store  *storage.Storage
	sched  scheduler.Scheduler
	notify *service.NotificationService
	log    zerolog.Logger
}

func New(cfg *config.Config, store *storage.Storage, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	b := &Bot{
		api:   api,
		cfg:   cfg,
		store: store,
		log:   log.With().Str("component", "bot").Logger(),
	}
	b.log.Info().Str("username", api.Self.UserName).Msg("authorized")

	b.setCommands()
	return b, nil
}

// SetScheduler and SetNotifier wire the collaborators that are built
// after the bot, since both need the bot as their delivery channel.
func (b *Bot) SetScheduler(s scheduler.Scheduler) { b.sched = s }

func (b *Bot) SetNotifier(n *service.NotificationService) { b.notify = n }

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "Включить ежедневные уведомления"},
		{Command: "time", Description: "Время уведомления, напр. /time 09:30"},
		{Command: "timezone", Description: "Часовой пояс, напр. /timezone Asia/Almaty"},
		{Command: "today", Description: "События на сегодня"},
		{Command: "status", Description: "Настройки и следующее уведомление"},
		{Command: "off", Description: "Выключить уведомления"},
		{Command: "on", Description: "Включить уведомления"},
		{Command: "help", Description: "Справка"},
	}

	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := b.api.Request(cfg); err != nil {
		b.log.Warn().Err(err).Msg("set commands")
	}
}

// Start runs long polling until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			b.handleMessage(update.Message)
		}
	}
}

// SendMessage implements the dispatcher's delivery channel.
func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
