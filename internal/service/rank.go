package service

import "today-planner/internal/model"

// RankUpdate assigns a rank to a task.
type RankUpdate struct {
	ID   string
	Rank int
}

// NextRank is the rank a new task gets: right after the open tasks of its bucket.
func NextRank(unfinished []model.Task) int {
	return len(unfinished) + 1
}

// Renormalize ranks the tasks 1..N in the order given.
func Renormalize(ordered []model.Task) []RankUpdate {
	return renumber(ordered, 1)
}

func renumber(ordered []model.Task, from int) []RankUpdate {
	updates := make([]RankUpdate, len(ordered))
	for i, t := range ordered {
		updates[i] = RankUpdate{ID: t.ID, Rank: from + i}
	}
	return updates
}

// Changed keeps only the updates that differ from the current ranks.
func Changed(ordered []model.Task, updates []RankUpdate) []RankUpdate {
	current := make(map[string]int, len(ordered))
	for _, t := range ordered {
		current[t.ID] = t.Rank
	}
	var out []RankUpdate
	for _, u := range updates {
		if rank, ok := current[u.ID]; !ok || rank != u.Rank {
			out = append(out, u)
		}
	}
	return out
}

// applyRanks returns a copy of ordered carrying the new ranks.
func applyRanks(ordered []model.Task, updates []RankUpdate) []model.Task {
	next := make(map[string]int, len(updates))
	for _, u := range updates {
		next[u.ID] = u.Rank
	}
	out := make([]model.Task, len(ordered))
	for i, t := range ordered {
		if r, ok := next[t.ID]; ok {
			t.Rank = r
		}
		out[i] = t
	}
	return out
}

// contiguous reports whether the ranks read 1..N in order.
func contiguous(ordered []model.Task) bool {
	for i, t := range ordered {
		if t.Rank != i+1 {
			return false
		}
	}
	return true
}
