package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"today-planner/internal/marker"
	"today-planner/internal/model"
)

// RolloverResult describes one rollover pass.
type RolloverResult struct {
	Moved       int
	AlreadyDone bool
	Date        string
}

// RolloverService moves tomorrow's tasks into today once per local day.
type RolloverService struct {
	store   TaskStore
	markers marker.Store
	loc     *time.Location
	limit   int
	now     func() time.Time

	// OnRolledOver, when set, runs after the write phase so displayed lists
	// can be reloaded.
	OnRolledOver func(ctx context.Context, userID string)
}

func NewRolloverService(store TaskStore, markers marker.Store, loc *time.Location, writeConcurrency int) *RolloverService {
	if loc == nil {
		loc = time.Local
	}
	return &RolloverService{
		store:   store,
		markers: markers,
		loc:     loc,
		limit:   writeConcurrency,
		now:     time.Now,
	}
}

// Today is the current local day as stored in markers.
func (s *RolloverService) Today() string {
	return marker.DateString(s.now().In(s.loc))
}

// Due reports whether the user's rollover has not run yet today.
func (s *RolloverService) Due(ctx context.Context, userID string) (bool, error) {
	m, err := marker.Load(ctx, s.markers, userID)
	if err != nil {
		return false, err
	}
	return !m.DoneOn(s.now().In(s.loc)), nil
}

// Run performs the pass for one user. Lists are read fresh from the store.
// The marker is written after the write phase even when some writes failed;
// a failed read leaves it unset so the next session retries.
func (s *RolloverService) Run(ctx context.Context, userID string) (RolloverResult, error) {
	today := s.Today()
	res := RolloverResult{Date: today}

	m, err := marker.Load(ctx, s.markers, userID)
	if err != nil {
		return res, err
	}
	if m.Date == today {
		res.AlreadyDone = true
		return res, nil
	}

	todayTasks, err := s.store.ListByBucket(ctx, userID, model.BucketToday)
	if err != nil {
		return res, fmt.Errorf("rollover: %w", err)
	}
	tomorrowTasks, err := s.store.ListByBucket(ctx, userID, model.BucketTomorrow)
	if err != nil {
		return res, fmt.Errorf("rollover: %w", err)
	}

	var writeErr error
	if len(tomorrowTasks) > 0 {
		patches := planRollover(todayTasks, tomorrowTasks)
		writeErr = s.apply(ctx, patches)
		res.Moved = len(tomorrowTasks)
	}

	if err := marker.Save(ctx, s.markers, marker.RolloverMarker{UserID: userID, Date: today}); err != nil {
		slog.Error("rollover marker not saved", "user", userID, "err", err)
		if writeErr == nil {
			writeErr = err
		}
	}
	if s.OnRolledOver != nil {
		s.OnRolledOver(ctx, userID)
	}

	slog.Info("rollover finished", "user", userID, "moved", res.Moved, "date", today, "err", writeErr)
	return res, writeErr
}

type rolloverPatch struct {
	id    string
	patch model.TaskPatch
}

// planRollover appends tomorrow's tasks after today's highest rank, keeping
// their relative order, then closes any gaps among today's open tasks.
func planRollover(todayTasks, tomorrowTasks []model.Task) []rolloverPatch {
	next := 1
	for _, t := range todayTasks {
		if t.Rank >= next {
			next = t.Rank + 1
		}
	}

	incoming := append([]model.Task(nil), tomorrowTasks...)
	sort.SliceStable(incoming, func(i, j int) bool { return incoming[i].Rank < incoming[j].Rank })

	today := model.BucketToday
	patches := make(map[string]*model.TaskPatch, len(incoming))
	order := make([]string, 0, len(incoming))
	for i := range incoming {
		rank := next
		next++
		incoming[i].Rank = rank
		incoming[i].Date = today
		patches[incoming[i].ID] = &model.TaskPatch{Date: &today, Rank: &rank}
		order = append(order, incoming[i].ID)
	}

	open := model.Unfinished(sortByRank(todayTasks))
	open = append(open, model.Unfinished(incoming)...)
	for _, u := range Changed(open, Renormalize(open)) {
		rank := u.Rank
		if p, ok := patches[u.ID]; ok {
			p.Rank = &rank
			continue
		}
		patches[u.ID] = &model.TaskPatch{Rank: &rank}
		order = append(order, u.ID)
	}

	out := make([]rolloverPatch, 0, len(order))
	for _, id := range order {
		out = append(out, rolloverPatch{id: id, patch: *patches[id]})
	}
	return out
}

func (s *RolloverService) apply(ctx context.Context, patches []rolloverPatch) error {
	writes := make([]write, len(patches))
	for i, p := range patches {
		writes[i] = write{id: p.id, run: func(ctx context.Context) error {
			return s.store.Update(ctx, p.id, p.patch)
		}}
	}
	return runBatch(ctx, "rollover tasks", s.limit, writes)
}
