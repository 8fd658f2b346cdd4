package service

import (
	"context"
	"log/slog"

	"today-planner/internal/model"
)

// MoveWithin performs an array move: the source task is taken out and put back
// at the destination task's position, shifting everything in between by one.
// It reports false when nothing moves.
func MoveWithin(tasks []model.Task, sourceID, destID string) ([]model.Task, bool) {
	if destID == "" || sourceID == destID {
		return tasks, false
	}
	from, to := indexOf(tasks, sourceID), indexOf(tasks, destID)
	if from < 0 || to < 0 {
		return tasks, false
	}

	out := make([]model.Task, 0, len(tasks))
	out = append(out, tasks[:from]...)
	out = append(out, tasks[from+1:]...)
	moved := tasks[from]
	out = append(out[:to], append([]model.Task{moved}, out[to:]...)...)
	return out, true
}

// Reorder is the outcome of a drag. Tasks is already what the user sees;
// Done is closed once the rank writes have all finished.
type Reorder struct {
	Tasks   []model.Task
	Updates []RankUpdate
	Done    <-chan struct{}

	err error
}

// Wait blocks until the rank writes are done and returns their result.
// It may be called any number of times.
func (r *Reorder) Wait() error {
	<-r.Done
	return r.err
}

// Reorderer turns drag gestures into a new order plus rank writes.
type Reorderer struct {
	store TaskStore
	limit int

	// OnError, when set, receives failed rank writes.
	OnError func(userID string, err error)
	// OnChange, when set, is called after the writes succeed.
	OnChange func(userID string, bucket model.Bucket)
}

func NewReorderer(store TaskStore, writeConcurrency int) *Reorderer {
	return &Reorderer{store: store, limit: writeConcurrency}
}

// Move drops sourceID onto destID within the bucket. The board is updated
// before any write is issued; the writes run in the background and are not
// rolled back if they fail.
func (r *Reorderer) Move(ctx context.Context, board *Board, bucket model.Bucket, sourceID, destID string) (*Reorder, error) {
	order, updates, err := board.move(bucket, sourceID, destID)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	res := &Reorder{Tasks: order, Updates: updates, Done: done}
	if len(updates) == 0 {
		close(done)
		return res, nil
	}

	writeCtx := context.WithoutCancel(ctx)
	userID := board.UserID()
	go func() {
		err := r.persist(writeCtx, updates)
		if err != nil {
			slog.Error("reorder writes failed", "user", userID, "bucket", bucket, "err", err)
			if r.OnError != nil {
				r.OnError(userID, err)
			}
		} else if r.OnChange != nil {
			r.OnChange(userID, bucket)
		}
		res.err = err
		close(done)
	}()
	return res, nil
}

func (r *Reorderer) persist(ctx context.Context, updates []RankUpdate) error {
	return writeRanks(ctx, r.store, "reorder tasks", r.limit, updates)
}

func writeRanks(ctx context.Context, store TaskStore, op string, limit int, updates []RankUpdate) error {
	writes := make([]write, len(updates))
	for i, u := range updates {
		writes[i] = write{id: u.ID, run: func(ctx context.Context) error {
			return store.Update(ctx, u.ID, model.RankPatch(u.Rank))
		}}
	}
	return runBatch(ctx, op, limit, writes)
}
