package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"today-planner/internal/model"
)

// TaskRepository is the typed gateway over the tasks table.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// ListAll returns every task of the user ordered by rank.
func (r *TaskRepository) ListAll(ctx context.Context, userID string) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("rank ASC, created_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListByBucket returns the user's tasks in one bucket ordered by rank.
// Filtering goes through model.Classify so legacy rows land in today.
func (r *TaskRepository) ListByBucket(ctx context.Context, userID string, bucket model.Bucket) ([]model.Task, error) {
	all, err := r.ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	tasks := make([]model.Task, 0, len(all))
	for _, task := range all {
		if model.Classify(task) == bucket {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID string) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, fmt.Errorf("find task: %w", notFound(err))
	}
	return &task, nil
}

// Update merges the patch into the stored task and refreshes updated_at.
func (r *TaskRepository) Update(ctx context.Context, taskID string, patch model.TaskPatch) error {
	cols := patch.Columns()
	cols["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", taskID).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// Save writes the whole record, so fields the caller did not touch keep their values.
func (r *TaskRepository) Save(ctx context.Context, task *model.Task) error {
	res := r.db.WithContext(ctx).Model(task).Select("*").Omit("created_at").Updates(task)
	if res.Error != nil {
		return fmt.Errorf("save task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("save task %s: %w", task.ID, ErrNotFound)
	}
	return nil
}

// Delete removes a task. Deleting a task that is already gone succeeds.
func (r *TaskRepository) Delete(ctx context.Context, taskID string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", taskID).Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
