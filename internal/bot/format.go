package bot

import (
	"fmt"
	"html"
	"strings"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"today-planner/internal/model"
)

const (
	cbTogglePrefix = "toggle:"
	cbDeletePrefix = "delete:"
	cbUpPrefix     = "up:"
	cbDownPrefix   = "down:"
	cbEditPrefix   = "edit:"
	cbClearPrefix  = "clear:"
)

func bucketTitle(bucket model.Bucket) string {
	if bucket == model.BucketTomorrow {
		return "🌙 <b>Tomorrow</b>"
	}
	return "🔥 <b>Today</b>"
}

// renderList builds the bucket message and its inline buttons: one row per
// open task (finish, move up, move down, edit, delete) and one per finished
// task (reopen, delete).
func renderList(bucket model.Bucket, tasks []model.Task) (string, tgbotapi.InlineKeyboardMarkup, bool) {
	open := model.Unfinished(tasks)
	done := model.Finished(tasks)

	var builder strings.Builder
	builder.WriteString(bucketTitle(bucket))
	builder.WriteByte('\n')
	if len(tasks) == 0 {
		builder.WriteString("Nothing here yet. Add a task with /newtask.")
		return builder.String(), tgbotapi.InlineKeyboardMarkup{}, false
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for i, task := range open {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, escape(normalizeTitle(task.Title))))
		if desc := strings.TrimSpace(task.Description); desc != "" {
			builder.WriteString(fmt.Sprintf("   📝 %s\n", escape(desc)))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ %d. %s", i+1, shortTitle(task.Title, 18)), cbTogglePrefix+task.ID),
			tgbotapi.NewInlineKeyboardButtonData("⬆️", cbUpPrefix+task.ID),
			tgbotapi.NewInlineKeyboardButtonData("⬇️", cbDownPrefix+task.ID),
			tgbotapi.NewInlineKeyboardButtonData("✏️", cbEditPrefix+task.ID),
			tgbotapi.NewInlineKeyboardButtonData("🗑", cbDeletePrefix+task.ID),
		))
	}

	if len(done) > 0 {
		builder.WriteString(fmt.Sprintf("\n✔️ <b>Finished</b> (%d)\n", len(done)))
		for _, task := range done {
			builder.WriteString(fmt.Sprintf("<s>%s</s>\n", escape(normalizeTitle(task.Title))))
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("↩️ "+shortTitle(task.Title, 24), cbTogglePrefix+task.ID),
				tgbotapi.NewInlineKeyboardButtonData("🗑", cbDeletePrefix+task.ID),
			))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🧹 Clear finished", cbClearPrefix+string(bucket)),
		))
	}
	return strings.TrimSpace(builder.String()), tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// neighbor returns the id of the open task next to taskID, one step up or down.
func neighbor(open []model.Task, taskID string, up bool) (string, bool) {
	for i, t := range open {
		if t.ID != taskID {
			continue
		}
		j := i + 1
		if up {
			j = i - 1
		}
		if j < 0 || j >= len(open) {
			return "", false
		}
		return open[j].ID, true
	}
	return "", false
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	clean = normalizeTitle(clean)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func escape(s string) string {
	return html.EscapeString(s)
}
