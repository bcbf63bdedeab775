package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/eventgreen/notifybot/internal/domain"
	"github.com/eventgreen/notifybot/internal/storage"
)

const helpText = `Я напоминаю о событиях ваших клиентов раз в день.

/time HH:MM — во сколько присылать уведомление
/timezone Area/City — ваш часовой пояс (IANA, напр. Asia/Almaty)
/today — показать события на сегодня
/status — текущие настройки и следующее уведомление
/off и /on — выключить и включить уведомления`

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		b.reply(msg.Chat.ID, "Не понимаю. Посмотрите /help")
		return
	}

	switch msg.Command() {
	case "start":
		b.handleStart(msg)
	case "time":
		b.handleTime(msg)
	case "timezone":
		b.handleTimezone(msg)
	case "today":
		b.handleToday(msg)
	case "status":
		b.handleStatus(msg)
	case "off":
		b.handleOff(msg)
	case "on":
		b.handleOn(msg)
	case "help":
		b.reply(msg.Chat.ID, helpText)
	default:
		b.reply(msg.Chat.ID, "Неизвестная команда. Посмотрите /help")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.SendMessage(chatID, text); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("reply")
	}
}

func (b *Bot) handleStart(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	cfg, err := b.store.GetConfig(chatID)
	if errors.Is(err, storage.ErrNotFound) {
		tod, perr := domain.ParseTimeOfDay(b.cfg.DefaultNotifyTime)
		if perr != nil {
			b.log.Error().Err(perr).Msg("default notify time is invalid")
			return
		}
		cfg = &domain.NotificationConfig{
			UserID:   chatID,
			Time:     tod,
			Timezone: b.cfg.DefaultTimezone,
			Enabled:  true,
		}
		if err := b.store.UpsertConfig(cfg); err != nil {
			b.log.Error().Err(err).Int64("chat_id", chatID).Msg("create config")
			b.reply(chatID, "Не получилось сохранить настройки, попробуйте ещё раз")
			return
		}
		b.sched.OnConfigChanged(cfg)
	} else if err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("get config")
		return
	}

	b.reply(chatID, fmt.Sprintf(
		"Привет! Я буду присылать события ваших клиентов каждый день в <b>%s</b> (%s).\n\n%s",
		cfg.Time, cfg.Timezone, helpText))
}

// mutateConfig applies fn to the user's current config (or a fresh
// default) and pushes the result to the store and the scheduler.
func (b *Bot) mutateConfig(chatID int64, fn func(*domain.NotificationConfig)) (*domain.NotificationConfig, error) {
	cfg, err := b.store.GetConfig(chatID)
	if errors.Is(err, storage.ErrNotFound) {
		tod, perr := domain.ParseTimeOfDay(b.cfg.DefaultNotifyTime)
		if perr != nil {
			return nil, perr
		}
		cfg = &domain.NotificationConfig{
			UserID:   chatID,
			Time:     tod,
			Timezone: b.cfg.DefaultTimezone,
			Enabled:  true,
		}
	} else if err != nil {
		return nil, err
	}

	fn(cfg)
	if err := b.store.UpsertConfig(cfg); err != nil {
		return nil, err
	}
	b.sched.OnConfigChanged(cfg)
	return cfg, nil
}

func (b *Bot) handleTime(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	tod, err := domain.ParseTimeOfDay(strings.TrimSpace(msg.CommandArguments()))
	if err != nil {
		b.reply(chatID, "Неверный формат. Пример: /time 09:30")
		return
	}

	cfg, err := b.mutateConfig(chatID, func(c *domain.NotificationConfig) { c.Time = tod })
	if err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("set time")
		b.reply(chatID, "Не получилось сохранить настройки, попробуйте ещё раз")
		return
	}
	b.reply(chatID, fmt.Sprintf("Готово! Буду писать в <b>%s</b> (%s)", cfg.Time, cfg.Timezone))
}

func (b *Bot) handleTimezone(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	tz := strings.TrimSpace(msg.CommandArguments())
	if _, err := time.LoadLocation(tz); err != nil || tz == "" {
		b.reply(chatID, "Не знаю такой часовой пояс. Пример: /timezone Asia/Almaty")
		return
	}

	cfg, err := b.mutateConfig(chatID, func(c *domain.NotificationConfig) { c.Timezone = tz })
	if err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("set timezone")
		b.reply(chatID, "Не получилось сохранить настройки, попробуйте ещё раз")
		return
	}
	b.reply(chatID, fmt.Sprintf("Готово! Буду писать в <b>%s</b> (%s)", cfg.Time, cfg.Timezone))
}

func (b *Bot) handleOff(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if _, err := b.mutateConfig(chatID, func(c *domain.NotificationConfig) { c.Enabled = false }); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("disable")
		b.reply(chatID, "Не получилось сохранить настройки, попробуйте ещё раз")
		return
	}
	b.reply(chatID, "Уведомления выключены. Вернуть: /on")
}

func (b *Bot) handleOn(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	cfg, err := b.mutateConfig(chatID, func(c *domain.NotificationConfig) { c.Enabled = true })
	if err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("enable")
		b.reply(chatID, "Не получилось сохранить настройки, попробуйте ещё раз")
		return
	}
	b.reply(chatID, fmt.Sprintf("Уведомления включены: <b>%s</b> (%s)", cfg.Time, cfg.Timezone))
}

func (b *Bot) handleToday(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	cfg, err := b.store.GetConfig(chatID)
	if err != nil {
		b.reply(chatID, "Сначала настройте уведомления: /start")
		return
	}

	localDate, err := domain.LocalDate(cfg.Timezone, time.Now().UTC())
	if err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("local date")
		return
	}

	// manual check: sends the digest directly, the daily ledger is not
	// touched
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DispatchTimeout)
	defer cancel()
	out := b.notify.Dispatch(ctx, chatID, localDate)

	switch out.Kind {
	case domain.OutcomeNoEvents:
		b.reply(chatID, "Сегодня событий нет 🎈")
	case domain.OutcomeDeliveryFailed:
		b.reply(chatID, "Не получилось собрать события: "+out.Reason)
	}
}

func (b *Bot) handleStatus(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	cfg, err := b.store.GetConfig(chatID)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, "Уведомления ещё не настроены: /start")
		return
	}
	if err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("get config")
		return
	}

	if !cfg.Enabled {
		b.reply(chatID, "Уведомления выключены. Вернуть: /on")
		return
	}

	statuses, err := b.sched.Status()
	if err != nil {
		b.log.Error().Err(err).Msg("scheduler status")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⏰ Время: <b>%s</b>\n🌍 Пояс: %s\n", cfg.Time, cfg.Timezone))
	for _, st := range statuses {
		if st.UserID != chatID {
			continue
		}
		if !st.NextTrigger.IsZero() {
			if loc, lerr := time.LoadLocation(cfg.Timezone); lerr == nil {
				sb.WriteString(fmt.Sprintf("➡️ Следующее: %s\n",
					st.NextTrigger.In(loc).Format("02.01.2006 15:04")))
			}
		}
		if st.LastDate != "" {
			sb.WriteString(fmt.Sprintf("📋 Последнее: %s (%s)\n", st.LastDate, st.LastStatus))
		}
	}
	b.reply(chatID, sb.String())
}
