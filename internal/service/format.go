package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/eventgreen/notifybot/internal/domain"
)

var weekdays = [...]string{
	"воскресенье", "понедельник", "вторник", "среда", "четверг", "пятница", "суббота",
}

var categoryEmoji = map[string]string{
	"день рождения": "🎂",
	"годовщина":     "💍",
	"юбилей":        "🎊",
}

var greetings = map[string]string{
	"день рождения": "🎂 С днём рождения! Здоровья, счастья и исполнения желаний! ✨",
	"годовщина":     "💍 Поздравляем с годовщиной! Пусть впереди будет ещё много счастливых лет!",
}

const defaultGreeting = "🎉 Поздравляем с праздником! Желаем радости и счастья! ✨"

// FormatDigest renders the daily HTML digest for one user's events.
func FormatDigest(localDate string, events []domain.Event) string {
	var sb strings.Builder

	header := localDate
	if d, err := time.Parse("2006-01-02", localDate); err == nil {
		header = fmt.Sprintf("%s, %s", weekdays[d.Weekday()], d.Format("02.01.2006"))
	}
	sb.WriteString(fmt.Sprintf("🎉 <b>События на сегодня, %s:</b>\n\n", header))

	for i, e := range events {
		name := e.Name
		if strings.TrimSpace(name) == "" {
			name = "Без имени"
		}
		category := strings.ToLower(strings.TrimSpace(e.Category))

		emoji := categoryEmoji[category]
		if emoji == "" {
			emoji = "🎉"
		}

		sb.WriteString(fmt.Sprintf("%d. 👤 <b>%s</b> %s %s", i+1, name, emoji, e.Category))
		if strings.TrimSpace(e.Detail) != "" {
			sb.WriteString(fmt.Sprintf(" 📝 %s", e.Detail))
		}
		sb.WriteString("\n")

		greeting := greetings[category]
		if greeting == "" {
			greeting = defaultGreeting
		}
		sb.WriteString(fmt.Sprintf("<blockquote>%s</blockquote>\n", greeting))
	}

	sb.WriteString(fmt.Sprintf("\n<b>Всего: %d</b>", len(events)))
	return sb.String()
}
