package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"today-planner/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "data", "planner.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestTaskRepositoryCreateAssignsID(t *testing.T) {
	repo := NewTaskRepository(openTestDB(t))
	ctx := context.Background()

	task := model.Task{UserID: "u1", Title: "Buy milk", Date: model.BucketToday, Rank: 1}
	if err := repo.Create(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected id to be assigned")
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}
}

func TestTaskRepositoryListByBucket(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()

	seed := []model.Task{
		{UserID: "u1", Title: "B", Date: model.BucketToday, Rank: 2},
		{UserID: "u1", Title: "A", Date: model.BucketToday, Rank: 1},
		{UserID: "u1", Title: "Plan trip", Date: model.BucketTomorrow, Rank: 1},
		{UserID: "u2", Title: "Other user", Date: model.BucketToday, Rank: 1},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	// A record written before buckets existed has no date at all.
	if err := db.Exec("INSERT INTO tasks (id, user_id, title, date, rank, created_at, updated_at) VALUES ('legacy', 'u1', 'Legacy', NULL, 3, datetime('now'), datetime('now'))").Error; err != nil {
		t.Fatalf("insert legacy: %v", err)
	}

	today, err := repo.ListByBucket(ctx, "u1", model.BucketToday)
	if err != nil {
		t.Fatalf("list today: %v", err)
	}
	if got := titles(today); !equal(got, []string{"A", "B", "Legacy"}) {
		t.Fatalf("today = %v", got)
	}

	tomorrow, err := repo.ListByBucket(ctx, "u1", model.BucketTomorrow)
	if err != nil {
		t.Fatalf("list tomorrow: %v", err)
	}
	if got := titles(tomorrow); !equal(got, []string{"Plan trip"}) {
		t.Fatalf("tomorrow = %v", got)
	}
}

func TestTaskRepositoryUpdate(t *testing.T) {
	repo := NewTaskRepository(openTestDB(t))
	ctx := context.Background()

	task := model.Task{UserID: "u1", Title: "Call mom", Date: model.BucketTomorrow, Rank: 4}
	if err := repo.Create(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.Update(ctx, task.ID, model.RankPatch(1)); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.FindByID(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Rank != 1 || got.Date != model.BucketTomorrow || got.Title != "Call mom" {
		t.Fatalf("unexpected task after rank update: %+v", got)
	}
	if !got.UpdatedAt.After(task.UpdatedAt) && !got.UpdatedAt.Equal(task.UpdatedAt) {
		t.Fatalf("updated_at went backwards")
	}

	err = repo.Update(ctx, "missing", model.RankPatch(1))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskRepositorySaveKeepsFields(t *testing.T) {
	repo := NewTaskRepository(openTestDB(t))
	ctx := context.Background()

	task := model.Task{UserID: "u1", Title: "Read", Description: "ch. 3", Date: model.BucketTomorrow, Rank: 2}
	if err := repo.Create(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}
	task.IsFinished = true
	if err := repo.Save(ctx, &task); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.FindByID(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !got.IsFinished || got.Rank != 2 || got.Date != model.BucketTomorrow || got.Description != "ch. 3" {
		t.Fatalf("save lost fields: %+v", got)
	}

	task.IsFinished = false
	if err := repo.Save(ctx, &task); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ = repo.FindByID(ctx, "u1", task.ID)
	if got.IsFinished {
		t.Fatal("expected zero value to be written")
	}
}

func TestTaskRepositoryDeleteIsIdempotent(t *testing.T) {
	repo := NewTaskRepository(openTestDB(t))
	ctx := context.Background()

	task := model.Task{UserID: "u1", Title: "Gone", Rank: 1}
	if err := repo.Create(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Delete(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, task.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := repo.FindByID(ctx, "u1", task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByIDScopedToOwner(t *testing.T) {
	repo := NewTaskRepository(openTestDB(t))
	ctx := context.Background()

	task := model.Task{UserID: "u1", Title: "Mine", Rank: 1}
	if err := repo.Create(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.FindByID(ctx, "u2", task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other owner, got %v", err)
	}
}

func titles(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
