package service

import (
	"context"

	"today-planner/internal/model"
	"today-planner/internal/repository"
)

// TaskStore is the gateway the planner writes through.
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) error
	ListAll(ctx context.Context, userID string) ([]model.Task, error)
	ListByBucket(ctx context.Context, userID string, bucket model.Bucket) ([]model.Task, error)
	FindByID(ctx context.Context, userID, taskID string) (*model.Task, error)
	Update(ctx context.Context, taskID string, patch model.TaskPatch) error
	Save(ctx context.Context, task *model.Task) error
	Delete(ctx context.Context, taskID string) error
}

var _ TaskStore = (*repository.TaskRepository)(nil)
