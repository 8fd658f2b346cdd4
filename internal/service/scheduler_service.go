package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"today-planner/internal/identity"
)

// SessionState is the rollover state of one signed-in user.
type SessionState int32

const (
	StateWaiting SessionState = iota
	StateExecuting
)

func (s SessionState) String() string {
	if s == StateExecuting {
		return "executing"
	}
	return "waiting"
}

const passTimeout = time.Minute

type rolloverSession struct {
	entry  cron.EntryID
	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
}

// SchedulerService wraps cron-based jobs. Besides plain daily and interval
// jobs it keeps one midnight rollover entry per signed-in user.
type SchedulerService struct {
	cron     *cron.Cron
	loc      *time.Location
	rollover *RolloverService

	mu       sync.Mutex
	sessions map[string]*rolloverSession
}

func NewSchedulerService(loc *time.Location, rollover *RolloverService) *SchedulerService {
	if loc == nil {
		loc = time.Local
	}
	return &SchedulerService{
		cron:     cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		loc:      loc,
		rollover: rollover,
		sessions: make(map[string]*rolloverSession),
	}
}

// ScheduleDaily registers a daily job at the given HH:MM time string.
func (s *SchedulerService) ScheduleDaily(timeStr string, job func()) (cron.EntryID, error) {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return 0, err
	}
	return s.cron.AddFunc(spec, job)
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

// Stop halts the cron, cancels in-flight rollover passes and waits for running jobs.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.cancel()
	}
	s.mu.Unlock()
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// NextMidnight is 00:00:00.000 of the calendar day after now, in now's location.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// Arm starts the user's midnight rollover. If the marker is stale, for example
// because nothing ran across the last midnight, a pass runs right away.
// Arming an armed user is a no-op.
func (s *SchedulerService) Arm(ctx context.Context, userID string) error {
	s.mu.Lock()
	if _, ok := s.sessions[userID]; ok {
		s.mu.Unlock()
		return nil
	}
	spec, err := buildDailySpec("00:00")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &rolloverSession{ctx: sessCtx, cancel: cancel}
	id, err := s.cron.AddFunc(spec, func() { s.fire(userID, sess) })
	if err != nil {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("schedule rollover: %w", err)
	}
	sess.entry = id
	s.sessions[userID] = sess
	s.mu.Unlock()

	slog.Info("rollover armed", "user", userID, "next", NextMidnight(time.Now().In(s.loc)))

	due, err := s.rollover.Due(ctx, userID)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}
	_, err = s.execute(ctx, userID, sess)
	return err
}

// Disarm removes the user's entry and cancels a pass that is still running.
func (s *SchedulerService) Disarm(userID string) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if ok {
		delete(s.sessions, userID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.cron.Remove(sess.entry)
	sess.cancel()
	slog.Info("rollover disarmed", "user", userID)
}

// State reports the user's rollover state; false when not armed.
func (s *SchedulerService) State(userID string) (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return StateWaiting, false
	}
	return SessionState(sess.state.Load()), true
}

// NextRun is when the user's rollover fires next, computed from its cron entry.
func (s *SchedulerService) NextRun(userID string, now time.Time) (time.Time, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(sess.entry)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Schedule.Next(now.In(s.loc)), true
}

// RunNow runs a pass for an armed user outside the schedule, e.g. on request.
// Unarmed users get a one-off pass.
func (s *SchedulerService) RunNow(ctx context.Context, userID string) (RolloverResult, error) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	s.mu.Unlock()
	if !ok {
		return s.rollover.Run(ctx, userID)
	}
	return s.execute(ctx, userID, sess)
}

// Bind arms users as they sign in and disarms them as they sign out.
func (s *SchedulerService) Bind(p *identity.Provider) (unsubscribe func()) {
	return p.OnAuthStateChanged(func(st identity.State) {
		if !st.SignedIn {
			s.Disarm(st.UserID)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
		defer cancel()
		if err := s.Arm(ctx, st.UserID); err != nil {
			slog.Error("arm rollover", "user", st.UserID, "err", err)
		}
	})
}

func (s *SchedulerService) fire(userID string, sess *rolloverSession) {
	ctx, cancel := context.WithTimeout(sess.ctx, passTimeout)
	defer cancel()
	_, err := s.execute(ctx, userID, sess)
	switch {
	case errors.Is(err, ErrRolloverRunning):
		slog.Warn("rollover already running", "user", userID)
	case err != nil:
		slog.Error("scheduled rollover", "user", userID, "err", err)
	}
}

// execute runs one pass unless another is already in progress for the user.
func (s *SchedulerService) execute(ctx context.Context, userID string, sess *rolloverSession) (RolloverResult, error) {
	if !sess.state.CompareAndSwap(int32(StateWaiting), int32(StateExecuting)) {
		return RolloverResult{}, ErrRolloverRunning
	}
	defer sess.state.Store(int32(StateWaiting))
	return s.rollover.Run(ctx, userID)
}

func buildDailySpec(timeStr string) (string, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
