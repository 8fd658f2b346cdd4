package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"today-planner/internal/model"
	"today-planner/internal/repository"
)

var errBoom = errors.New("boom")

func newTestStore(t *testing.T) *repository.TaskRepository {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "planner.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewTaskRepository(db)
}

// seed creates open tasks in the bucket with ranks 1..n in the order given.
func seed(t *testing.T, store TaskStore, userID string, bucket model.Bucket, titles ...string) []model.Task {
	t.Helper()
	out := make([]model.Task, 0, len(titles))
	for i, title := range titles {
		task := model.Task{UserID: userID, Title: title, Date: bucket, Rank: i + 1}
		if err := store.Create(context.Background(), &task); err != nil {
			t.Fatalf("seed %q: %v", title, err)
		}
		out = append(out, task)
	}
	return out
}

func list(t *testing.T, store TaskStore, userID string, bucket model.Bucket) []model.Task {
	t.Helper()
	tasks, err := store.ListByBucket(context.Background(), userID, bucket)
	if err != nil {
		t.Fatalf("list %s: %v", bucket, err)
	}
	return tasks
}

func titlesOf(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}

func ranksOf(tasks []model.Task) []int {
	out := make([]int, len(tasks))
	for i, t := range tasks {
		out[i] = t.Rank
	}
	return out
}

func sameStrings(a, b []string) bool {
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

func sameInts(a, b []int) bool {
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

// flakyStore fails chosen operations and counts calls.
type flakyStore struct {
	TaskStore

	mu          sync.Mutex
	failUpdate  map[string]bool
	failList    bool
	creates     int
	updateCalls int
}

func newFlakyStore(inner TaskStore) *flakyStore {
	return &flakyStore{TaskStore: inner, failUpdate: make(map[string]bool)}
}

func (f *flakyStore) Create(ctx context.Context, task *model.Task) error {
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()
	return f.TaskStore.Create(ctx, task)
}

func (f *flakyStore) ListByBucket(ctx context.Context, userID string, bucket model.Bucket) ([]model.Task, error) {
	f.mu.Lock()
	fail := f.failList
	f.mu.Unlock()
	if fail {
		return nil, errBoom
	}
	return f.TaskStore.ListByBucket(ctx, userID, bucket)
}

func (f *flakyStore) Update(ctx context.Context, taskID string, patch model.TaskPatch) error {
	f.mu.Lock()
	f.updateCalls++
	fail := f.failUpdate[taskID]
	f.mu.Unlock()
	if fail {
		return errBoom
	}
	return f.TaskStore.Update(ctx, taskID, patch)
}
