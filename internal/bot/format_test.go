package bot

import (
	"strings"
	"testing"

	"today-planner/internal/model"
)

func TestRenderList(t *testing.T) {
	tasks := []model.Task{
		{ID: "a", Title: "buy milk", Description: "2 liters", Rank: 1},
		{ID: "b", Title: "Fix <door>", Rank: 2},
		{ID: "c", Title: "Old", Rank: 3, IsFinished: true},
	}
	text, markup, ok := renderList(model.BucketToday, tasks)
	if !ok {
		t.Fatal("expected buttons")
	}
	for _, want := range []string{"1. Buy milk", "📝 2 liters", "2. Fix &lt;door&gt;", "Finished</b> (1)", "<s>Old</s>"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
	// Two open rows, one finished row, one clear row.
	if len(markup.InlineKeyboard) != 4 {
		t.Fatalf("rows = %d", len(markup.InlineKeyboard))
	}
	if data := *markup.InlineKeyboard[0][2].CallbackData; data != cbDownPrefix+"a" {
		t.Fatalf("down button data %q", data)
	}
	if data := *markup.InlineKeyboard[3][0].CallbackData; data != cbClearPrefix+"today" {
		t.Fatalf("clear button data %q", data)
	}

	text, _, ok = renderList(model.BucketTomorrow, nil)
	if ok || !strings.Contains(text, "Tomorrow") || !strings.Contains(text, "Nothing here yet") {
		t.Fatalf("empty list: %q, %v", text, ok)
	}
}

func TestNeighbor(t *testing.T) {
	open := []model.Task{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	tests := []struct {
		id   string
		up   bool
		want string
		ok   bool
	}{
		{id: "a", up: false, want: "b", ok: true},
		{id: "b", up: true, want: "a", ok: true},
		{id: "a", up: true},
		{id: "c", up: false},
		{id: "x", up: false},
	}
	for _, tt := range tests {
		got, ok := neighbor(open, tt.id, tt.up)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("neighbor(%s, up=%v) = %q, %v", tt.id, tt.up, got, ok)
		}
	}
}

func TestParseBucketInput(t *testing.T) {
	tests := []struct {
		in   string
		want model.Bucket
		ok   bool
	}{
		{in: btnToday, want: model.BucketToday, ok: true},
		{in: btnTomorrow, want: model.BucketTomorrow, ok: true},
		{in: " Tomorrow ", want: model.BucketTomorrow, ok: true},
		{in: btnSkip, want: model.BucketToday, ok: true},
		{in: "", ok: false},
		{in: "next week", ok: false},
	}
	for _, tt := range tests {
		got, ok := parseBucketInput(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("parseBucketInput(%q) = %q, %v", tt.in, got, ok)
		}
	}
}

func TestShortTitle(t *testing.T) {
	if got := shortTitle("  plan\nthe trip  ", 40); got != "Plan the trip" {
		t.Fatalf("shortTitle = %q", got)
	}
	if got := shortTitle("abcdefghij", 5); got != "Abcd…" {
		t.Fatalf("shortTitle = %q", got)
	}
}
