package service

import (
	"context"
	"fmt"

	"today-planner/internal/model"
)

// ConfirmKind is the destructive action awaiting confirmation.
type ConfirmKind int

const (
	ConfirmDeleteTask ConfirmKind = iota
	ConfirmClearFinished
)

// Confirmation is what the user must approve before a delete runs.
type Confirmation struct {
	Kind   ConfirmKind
	UserID string
	TaskID string
	Bucket model.Bucket
	Count  int
	Prompt string
}

// PrepareDelete builds the confirmation for deleting one task.
func (s *TaskService) PrepareDelete(ctx context.Context, userID, taskID string) (Confirmation, error) {
	task, err := s.store.FindByID(ctx, userID, taskID)
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{
		Kind:   ConfirmDeleteTask,
		UserID: userID,
		TaskID: task.ID,
		Bucket: model.Classify(*task),
		Count:  1,
		Prompt: fmt.Sprintf("Delete task %q?", task.Title),
	}, nil
}

// PrepareClearFinished builds the confirmation for deleting the bucket's finished tasks.
func (s *TaskService) PrepareClearFinished(ctx context.Context, userID string, bucket model.Bucket) (Confirmation, error) {
	tasks, err := s.store.ListByBucket(ctx, userID, bucket)
	if err != nil {
		return Confirmation{}, err
	}
	n := len(model.Finished(tasks))
	if n == 0 {
		return Confirmation{}, invalid("bucket", "there are no finished tasks")
	}
	prompt := fmt.Sprintf("Delete all %d finished tasks?", n)
	if n == 1 {
		prompt = "Delete 1 finished task?"
	}
	return Confirmation{
		Kind:   ConfirmClearFinished,
		UserID: userID,
		Bucket: bucket,
		Count:  n,
		Prompt: prompt,
	}, nil
}

// Confirm runs the approved action.
func (s *TaskService) Confirm(ctx context.Context, c Confirmation) error {
	switch c.Kind {
	case ConfirmDeleteTask:
		return s.DeleteOne(ctx, c.UserID, c.TaskID)
	case ConfirmClearFinished:
		_, err := s.DeleteAllFinished(ctx, c.UserID, c.Bucket)
		return err
	default:
		return fmt.Errorf("unknown confirmation kind %d", c.Kind)
	}
}
