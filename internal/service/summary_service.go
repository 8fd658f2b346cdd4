package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"today-planner/internal/model"
)

// SummaryService builds the daily digest sent by the bot.
type SummaryService struct {
	store TaskStore
}

func NewSummaryService(store TaskStore) *SummaryService {
	return &SummaryService{store: store}
}

// DailySummary lists today's and tomorrow's open tasks in rank order.
func (s *SummaryService) DailySummary(ctx context.Context, userID string, now time.Time) (string, error) {
	today, err := s.store.ListByBucket(ctx, userID, model.BucketToday)
	if err != nil {
		return "", err
	}
	tomorrow, err := s.store.ListByBucket(ctx, userID, model.BucketTomorrow)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily summary</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("Mon, 02 Jan 2006")))

	writeSection(&builder, "🔥 <b>Today</b>", today, "— nothing planned\n")
	builder.WriteByte('\n')
	writeSection(&builder, "🌙 <b>Tomorrow</b>", tomorrow, "— nothing planned yet\n")

	return strings.TrimSpace(builder.String()), nil
}

func writeSection(builder *strings.Builder, header string, tasks []model.Task, empty string) {
	builder.WriteString(header)
	builder.WriteByte('\n')

	open := model.Unfinished(tasks)
	if len(open) == 0 {
		builder.WriteString(empty)
	}
	for i, task := range open {
		builder.WriteString(formatSummaryLine(i+1, task))
	}
	if done := len(tasks) - len(open); done > 0 {
		builder.WriteString(fmt.Sprintf("✅ finished: %d\n", done))
	}
}

func formatSummaryLine(pos int, task model.Task) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d. %s", pos, html.EscapeString(strings.TrimSpace(task.Title))))
	if desc := strings.TrimSpace(task.Description); desc != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(desc)))
	}
	sb.WriteByte('\n')
	return sb.String()
}
