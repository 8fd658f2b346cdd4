package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bucket is the day a task is planned for.
type Bucket string

const (
	BucketToday    Bucket = "today"
	BucketTomorrow Bucket = "tomorrow"
)

// Scan lets legacy rows with a NULL date load as an empty bucket.
func (b *Bucket) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*b = ""
	case string:
		*b = Bucket(v)
	case []byte:
		*b = Bucket(v)
	default:
		return fmt.Errorf("scan bucket: unsupported type %T", value)
	}
	return nil
}

func (b Bucket) Value() (driver.Value, error) {
	return string(b), nil
}

// ParseBucket validates user input. An empty value means today.
func ParseBucket(raw string) (Bucket, error) {
	switch Bucket(strings.ToLower(strings.TrimSpace(raw))) {
	case "", BucketToday:
		return BucketToday, nil
	case BucketTomorrow:
		return BucketTomorrow, nil
	default:
		return "", fmt.Errorf("unknown bucket %q", raw)
	}
}

// Task represents a single item in the planner.
type Task struct {
	ID          string `gorm:"primaryKey;size:36"`
	UserID      string `gorm:"index;size:36;not null"`
	Title       string `gorm:"not null"`
	Description string
	Date        Bucket `gorm:"index"`
	IsFinished  bool   `gorm:"default:false"`
	Rank        int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t *Task) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Bucket reports which list the task is shown in.
func (t Task) Bucket() Bucket {
	return Classify(t)
}

// Classify places a task in today or tomorrow. Records without a date
// predate the tomorrow list and belong to today.
func Classify(t Task) Bucket {
	if t.Date == BucketTomorrow {
		return BucketTomorrow
	}
	return BucketToday
}

// TaskPatch holds the fields of a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Date        *Bucket
	IsFinished  *bool
	Rank        *int
}

// Columns converts the patch into a column map for the store.
func (p TaskPatch) Columns() map[string]any {
	cols := make(map[string]any, 5)
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	if p.Description != nil {
		cols["description"] = *p.Description
	}
	if p.Date != nil {
		cols["date"] = *p.Date
	}
	if p.IsFinished != nil {
		cols["is_finished"] = *p.IsFinished
	}
	if p.Rank != nil {
		cols["rank"] = *p.Rank
	}
	return cols
}

// RankPatch is the update issued for reorder and renormalization writes.
func RankPatch(rank int) TaskPatch {
	return TaskPatch{Rank: &rank}
}

// Unfinished returns the tasks still open, keeping their order.
func Unfinished(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if !t.IsFinished {
			out = append(out, t)
		}
	}
	return out
}

// Finished returns the completed tasks, keeping their order.
func Finished(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.IsFinished {
			out = append(out, t)
		}
	}
	return out
}
