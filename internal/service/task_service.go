package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"today-planner/internal/model"
	"today-planner/internal/repository"
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title       string
	Description string
	Bucket      model.Bucket
}

// TaskService covers creating, editing, finishing and deleting tasks.
type TaskService struct {
	store  TaskStore
	boards *Boards
	limit  int

	// OnChange, when set, is called after a bucket was written.
	OnChange func(userID string, bucket model.Bucket)
}

func NewTaskService(store TaskStore, boards *Boards, writeConcurrency int) *TaskService {
	return &TaskService{store: store, boards: boards, limit: writeConcurrency}
}

func (s *TaskService) CreateTask(ctx context.Context, userID string, input TaskInput) (*model.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, invalid("title", "title is required")
	}
	bucket := input.Bucket
	if bucket == "" {
		bucket = model.BucketToday
	}
	if bucket != model.BucketToday && bucket != model.BucketTomorrow {
		return nil, invalid("bucket", fmt.Sprintf("unknown bucket %q", bucket))
	}

	board, err := s.Board(ctx, userID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListByBucket(ctx, userID, bucket)
	if err != nil {
		return nil, err
	}

	task := model.Task{
		UserID:      userID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Date:        bucket,
		Rank:        NextRank(model.Unfinished(existing)),
	}
	if err := s.store.Create(ctx, &task); err != nil {
		return nil, err
	}

	board.put(task)
	s.notify(userID, bucket)
	return &task, nil
}

func (s *TaskService) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	return s.store.FindByID(ctx, userID, taskID)
}

// List reads the bucket from the store and refreshes the user's board with it.
func (s *TaskService) List(ctx context.Context, userID string, bucket model.Bucket) ([]model.Task, error) {
	tasks, err := s.store.ListByBucket(ctx, userID, bucket)
	if err != nil {
		return nil, err
	}
	board := s.boards.Get(userID)
	board.Replace(bucket, tasks)
	return board.Tasks(bucket), nil
}

// Board returns the user's displayed lists, loading them on first use.
func (s *TaskService) Board(ctx context.Context, userID string) (*Board, error) {
	if b, ok := s.boards.Lookup(userID); ok {
		return b, nil
	}
	b := s.boards.Get(userID)
	if err := b.Refresh(ctx, s.store); err != nil {
		s.boards.Drop(userID)
		return nil, err
	}
	return b, nil
}

// EditTask changes title and description only; date, rank and the finished
// flag are left as stored.
func (s *TaskService) EditTask(ctx context.Context, userID, taskID, title, description string) (*model.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, invalid("title", "title is required")
	}
	description = strings.TrimSpace(description)

	task, err := s.store.FindByID(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, taskID, model.TaskPatch{Title: &title, Description: &description}); err != nil {
		return nil, err
	}
	task.Title = title
	task.Description = description

	board, err := s.Board(ctx, userID)
	if err != nil {
		return task, err
	}
	board.put(*task)
	board.EndEdit(taskID)
	s.notify(userID, model.Classify(*task))
	return task, nil
}

// ToggleFinished flips the finished flag and writes the whole record back.
// The board shows the new state before the write is issued. A task coming
// back to the open list keeps its stored rank; if another open task holds the
// same rank the bucket is renumbered with the returning task first.
func (s *TaskService) ToggleFinished(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := s.store.FindByID(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	board, err := s.Board(ctx, userID)
	if err != nil {
		return nil, err
	}
	task.IsFinished = !task.IsFinished
	board.put(*task)
	board.EndEdit(taskID)

	if err := s.store.Save(ctx, task); err != nil {
		return nil, err
	}

	bucket := model.Classify(*task)
	if !task.IsFinished {
		if err := s.settleCollision(ctx, userID, bucket, *task); err != nil {
			return task, err
		}
	}
	s.notify(userID, bucket)
	return task, nil
}

func (s *TaskService) settleCollision(ctx context.Context, userID string, bucket model.Bucket, returning model.Task) error {
	tasks, err := s.store.ListByBucket(ctx, userID, bucket)
	if err != nil {
		return err
	}
	open := model.Unfinished(tasks)
	collides := false
	for _, t := range open {
		if t.ID != returning.ID && t.Rank == returning.Rank {
			collides = true
			break
		}
	}
	if !collides {
		return nil
	}

	sort.SliceStable(open, func(i, j int) bool {
		if open[i].Rank != open[j].Rank {
			return open[i].Rank < open[j].Rank
		}
		return open[i].ID == returning.ID
	})
	updates := Changed(open, Renormalize(open))
	if board, ok := s.boards.Lookup(userID); ok {
		board.Replace(bucket, append(applyRanks(open, updates), model.Finished(tasks)...))
	}
	return writeRanks(ctx, s.store, "renumber tasks", s.limit, updates)
}

// DeleteOne removes the task and renumbers the open tasks left in its bucket.
// Deleting a task that is already gone succeeds and writes nothing.
func (s *TaskService) DeleteOne(ctx context.Context, userID, taskID string) error {
	task, err := s.store.FindByID(ctx, userID, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		if board, ok := s.boards.Lookup(userID); ok {
			board.remove(taskID)
		}
		return nil
	}
	if err != nil {
		return err
	}
	board, err := s.Board(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, taskID); err != nil {
		return err
	}
	board.remove(taskID)

	bucket := model.Classify(*task)
	tasks, err := s.store.ListByBucket(ctx, userID, bucket)
	if err != nil {
		return err
	}
	open := model.Unfinished(tasks)
	updates := Changed(open, Renormalize(open))
	board.Replace(bucket, append(applyRanks(open, updates), model.Finished(tasks)...))

	err = writeRanks(ctx, s.store, "renumber tasks", s.limit, updates)
	s.notify(userID, bucket)
	return err
}

// DeleteAllFinished deletes every finished task in the bucket. Open tasks
// keep their ranks.
func (s *TaskService) DeleteAllFinished(ctx context.Context, userID string, bucket model.Bucket) (int, error) {
	tasks, err := s.store.ListByBucket(ctx, userID, bucket)
	if err != nil {
		return 0, err
	}
	finished := model.Finished(tasks)

	board, err := s.Board(ctx, userID)
	if err != nil {
		return 0, err
	}
	writes := make([]write, len(finished))
	for i, t := range finished {
		board.remove(t.ID)
		writes[i] = write{id: t.ID, run: func(ctx context.Context) error {
			return s.store.Delete(ctx, t.ID)
		}}
	}
	err = runBatch(ctx, "delete finished tasks", s.limit, writes)
	s.notify(userID, bucket)
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return len(finished) - len(batchErr.Failed), err
	}
	return len(finished), err
}

func (s *TaskService) notify(userID string, bucket model.Bucket) {
	if s.OnChange != nil {
		s.OnChange(userID, bucket)
	}
}
