package service

import (
	"context"
	"sort"
	"sync"

	"today-planner/internal/model"
)

// Board is a user's displayed today/tomorrow lists. It is updated optimistically
// before writes land and refreshed from the store after bulk changes.
type Board struct {
	mu      sync.Mutex
	userID  string
	lists   map[model.Bucket][]model.Task
	editing map[model.Bucket]string
}

func newBoard(userID string) *Board {
	return &Board{
		userID:  userID,
		lists:   make(map[model.Bucket][]model.Task, 2),
		editing: make(map[model.Bucket]string, 2),
	}
}

func (b *Board) UserID() string { return b.userID }

// Tasks returns a copy of the bucket's list in display order.
func (b *Board) Tasks(bucket model.Bucket) []model.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Task(nil), b.lists[bucket]...)
}

// Unfinished returns the draggable part of the bucket.
func (b *Board) Unfinished(bucket model.Bucket) []model.Task {
	return model.Unfinished(b.Tasks(bucket))
}

// Finished returns the bucket's finished section.
func (b *Board) Finished(bucket model.Bucket) []model.Task {
	return model.Finished(b.Tasks(bucket))
}

// Replace swaps in a list freshly read from the store.
func (b *Board) Replace(bucket model.Bucket, tasks []model.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists[bucket] = sortByRank(tasks)
	if id := b.editing[bucket]; id != "" && indexOf(b.lists[bucket], id) < 0 {
		delete(b.editing, bucket)
	}
}

// Refresh reloads both buckets from the store.
func (b *Board) Refresh(ctx context.Context, store TaskStore) error {
	for _, bucket := range []model.Bucket{model.BucketToday, model.BucketTomorrow} {
		tasks, err := store.ListByBucket(ctx, b.userID, bucket)
		if err != nil {
			return err
		}
		b.Replace(bucket, tasks)
	}
	return nil
}

// BeginEdit puts a task in inline-edit mode. While editing it cannot be dragged.
func (b *Board) BeginEdit(task model.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.editing[model.Classify(task)] = task.ID
}

// EndEdit leaves edit mode for the task, if it is the one being edited.
func (b *Board) EndEdit(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for bucket, id := range b.editing {
		if id == taskID {
			delete(b.editing, bucket)
		}
	}
}

// Editing returns the id of the task in edit mode in the bucket, if any.
func (b *Board) Editing(bucket model.Bucket) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.editing[bucket]
}

// put inserts or replaces a task, moving it between lists if its bucket changed.
func (b *Board) put(task model.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for bucket, list := range b.lists {
		if i := indexOf(list, task.ID); i >= 0 {
			b.lists[bucket] = append(list[:i:i], list[i+1:]...)
		}
	}
	bucket := model.Classify(task)
	b.lists[bucket] = sortByRank(append(b.lists[bucket], task))
}

func (b *Board) remove(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for bucket, list := range b.lists {
		if i := indexOf(list, taskID); i >= 0 {
			b.lists[bucket] = append(list[:i:i], list[i+1:]...)
		}
	}
	for bucket, id := range b.editing {
		if id == taskID {
			delete(b.editing, bucket)
		}
	}
}

// move applies a drag to the unfinished part of the bucket and renumbers it.
// It returns the new unfinished order and the rank writes it needs.
func (b *Board) move(bucket model.Bucket, sourceID, destID string) ([]model.Task, []RankUpdate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.lists[bucket]
	if i := indexOf(list, sourceID); i >= 0 && (list[i].IsFinished || b.editing[bucket] == sourceID) {
		return nil, nil, ErrNotDraggable
	}

	open := model.Unfinished(list)
	moved, ok := MoveWithin(open, sourceID, destID)
	if !ok {
		return open, nil, nil
	}
	updates := Changed(moved, Renormalize(moved))
	moved = applyRanks(moved, updates)
	b.lists[bucket] = append(moved, model.Finished(list)...)
	return append([]model.Task(nil), moved...), updates, nil
}

// Boards keeps one Board per signed-in user.
type Boards struct {
	mu     sync.Mutex
	boards map[string]*Board
}

func NewBoards() *Boards {
	return &Boards{boards: make(map[string]*Board)}
}

// Get returns the user's board, creating an empty one on first use.
func (bs *Boards) Get(userID string) *Board {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.boards[userID]
	if !ok {
		b = newBoard(userID)
		bs.boards[userID] = b
	}
	return b
}

// Lookup returns the board only if one exists.
func (bs *Boards) Lookup(userID string) (*Board, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.boards[userID]
	return b, ok
}

// Drop forgets the user's board when their session ends.
func (bs *Boards) Drop(userID string) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	delete(bs.boards, userID)
}

func indexOf(tasks []model.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// sortByRank orders open tasks before finished ones, each by rank.
func sortByRank(tasks []model.Task) []model.Task {
	out := append([]model.Task(nil), tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsFinished != out[j].IsFinished {
			return !out[i].IsFinished
		}
		return out[i].Rank < out[j].Rank
	})
	return out
}
