package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"today-planner/internal/identity"
	"today-planner/internal/marker"
	"today-planner/internal/repository"
	"today-planner/internal/service"
)

const testSecret = "test-secret"

type testEnv struct {
	ts       *httptest.Server
	provider *identity.Provider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store := repository.NewTaskRepository(db)

	provider := identity.NewProvider()
	hub := NewHub(provider)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	tasks := service.NewTaskService(store, service.NewBoards(), 4)
	reorder := service.NewReorderer(store, 4)
	rollover := service.NewRolloverService(store, marker.NewMemoryStore(), time.UTC, 4)
	sched := service.NewSchedulerService(time.UTC, rollover)

	srv := NewServer(tasks, reorder, sched, hub, testSecret, nil)
	tasks.OnChange = srv.Notify
	reorder.OnError = func(userID string, err error) { srv.NotifyError(userID, "reorder tasks", err) }

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, provider: provider}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := IssueToken([]byte(testSecret), userID, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

// call sends the request and decodes a JSON body into out when out is non-nil.
func (e *testEnv) call(t *testing.T, method, path, tok string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) create(t *testing.T, tok, title, bucket string) TaskResponse {
	t.Helper()
	var task TaskResponse
	if code := e.call(t, http.MethodPost, "/api/tasks", tok, CreateTaskRequest{Title: title, Bucket: bucket}, &task); code != http.StatusCreated {
		t.Fatalf("create %q: status %d", title, code)
	}
	return task
}

func titles(tasks []TaskResponse) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	if code := env.call(t, http.MethodGet, "/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
	if code := env.call(t, http.MethodGet, "/api/tasks", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	bad, _ := IssueToken([]byte("other-secret"), "u1", time.Hour)
	if code := env.call(t, http.MethodGet, "/api/tasks", bad, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("foreign token: %d", code)
	}
	expired, _ := IssueToken([]byte(testSecret), "u1", -time.Minute)
	if code := env.call(t, http.MethodGet, "/api/tasks", expired, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expired token: %d", code)
	}
}

func TestVerifyToken(t *testing.T) {
	tok := token(t, "u1")
	if id, err := VerifyToken([]byte(testSecret), tok); err != nil || id != "u1" {
		t.Fatalf("VerifyToken = %q, %v", id, err)
	}
	if _, err := VerifyToken([]byte(testSecret), tok+"x"); err == nil {
		t.Fatal("tampered token accepted")
	}
}

func TestCreateAndList(t *testing.T) {
	env := newTestEnv(t)
	tok := token(t, "u1")

	first := env.create(t, tok, "Buy milk", "")
	if first.Rank != 1 || first.Date != "today" || first.ID == "" {
		t.Fatalf("first task %+v", first)
	}
	env.create(t, tok, "Call mom", "today")
	env.create(t, tok, "Plan trip", "tomorrow")

	var errResp ErrorResponse
	if code := env.call(t, http.MethodPost, "/api/tasks", tok, CreateTaskRequest{Title: ""}, &errResp); code != http.StatusBadRequest || errResp.Error != "Title is required." {
		t.Fatalf("blank title: %d %q", code, errResp.Error)
	}
	if code := env.call(t, http.MethodPost, "/api/tasks", tok, CreateTaskRequest{Title: "   "}, &errResp); code != http.StatusBadRequest || errResp.Error != "Title is required." {
		t.Fatalf("whitespace title: %d %q", code, errResp.Error)
	}
	if code := env.call(t, http.MethodPost, "/api/tasks", tok, CreateTaskRequest{Title: "x", Bucket: "someday"}, &errResp); code != http.StatusBadRequest || errResp.Error != "Date must be one of: today, tomorrow." {
		t.Fatalf("bad bucket: %d %q", code, errResp.Error)
	}

	var list ListResponse
	if code := env.call(t, http.MethodGet, "/api/tasks?bucket=today", tok, nil, &list); code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if got := titles(list.Unfinished); len(got) != 2 || got[0] != "Buy milk" || got[1] != "Call mom" {
		t.Fatalf("today = %v", got)
	}
	if code := env.call(t, http.MethodGet, "/api/tasks?bucket=tomorrow", tok, nil, &list); code != http.StatusOK || len(list.Unfinished) != 1 {
		t.Fatalf("tomorrow: %d %v", code, titles(list.Unfinished))
	}
	if code := env.call(t, http.MethodGet, "/api/tasks?bucket=yesterday", tok, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad bucket list: %d", code)
	}

	// Another user sees nothing and cannot touch u1's tasks.
	other := token(t, "u2")
	if code := env.call(t, http.MethodGet, "/api/tasks", other, nil, &list); code != http.StatusOK || len(list.Unfinished) != 0 {
		t.Fatalf("u2 list: %d %v", code, titles(list.Unfinished))
	}
	if code := env.call(t, http.MethodPatch, "/api/tasks/"+first.ID, other, EditTaskRequest{Title: "mine"}, &errResp); code != http.StatusNotFound || errResp.Error != "Task not found." {
		t.Fatalf("foreign edit: %d %q", code, errResp.Error)
	}
}

func TestEditAndToggle(t *testing.T) {
	env := newTestEnv(t)
	tok := token(t, "u1")
	task := env.create(t, tok, "Buy milk", "tomorrow")

	var edited TaskResponse
	if code := env.call(t, http.MethodPatch, "/api/tasks/"+task.ID, tok, EditTaskRequest{Title: "Buy oat milk", Description: "2 liters"}, &edited); code != http.StatusOK {
		t.Fatalf("edit: %d", code)
	}
	if edited.Title != "Buy oat milk" || edited.Description != "2 liters" || edited.Date != "tomorrow" || edited.Rank != 1 {
		t.Fatalf("edited %+v", edited)
	}

	var toggled TaskResponse
	if code := env.call(t, http.MethodPost, "/api/tasks/"+task.ID+"/toggle", tok, nil, &toggled); code != http.StatusOK || !toggled.IsFinished {
		t.Fatalf("toggle: %d %+v", code, toggled)
	}
	var list ListResponse
	env.call(t, http.MethodGet, "/api/tasks?bucket=tomorrow", tok, nil, &list)
	if len(list.Unfinished) != 0 || len(list.Finished) != 1 {
		t.Fatalf("after toggle: %v / %v", titles(list.Unfinished), titles(list.Finished))
	}
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	tok := token(t, "u1")
	task := env.create(t, tok, "Buy milk", "")

	var prompt ConfirmResponse
	if code := env.call(t, http.MethodDelete, "/api/tasks/"+task.ID, tok, nil, &prompt); code != http.StatusConflict || prompt.Prompt != `Delete task "Buy milk"?` {
		t.Fatalf("unconfirmed delete: %d %+v", code, prompt)
	}
	if code := env.call(t, http.MethodDelete, "/api/tasks/"+task.ID+"?confirm=true", tok, nil, nil); code != http.StatusNoContent {
		t.Fatalf("confirmed delete: %d", code)
	}
	if code := env.call(t, http.MethodDelete, "/api/tasks/"+task.ID+"?confirm=true", tok, nil, nil); code != http.StatusNoContent {
		t.Fatalf("second delete: %d", code)
	}
	if code := env.call(t, http.MethodDelete, "/api/tasks/"+task.ID, tok, nil, nil); code != http.StatusNoContent {
		t.Fatalf("unconfirmed delete of a gone task: %d", code)
	}
}

func TestDeleteLeavesOtherUsersTasks(t *testing.T) {
	env := newTestEnv(t)
	mine := env.create(t, token(t, "u1"), "Mine", "")

	if code := env.call(t, http.MethodDelete, "/api/tasks/"+mine.ID+"?confirm=true", token(t, "u2"), nil, nil); code != http.StatusNoContent {
		t.Fatalf("foreign delete: %d", code)
	}
	var list ListResponse
	env.call(t, http.MethodGet, "/api/tasks", token(t, "u1"), nil, &list)
	if got := titles(list.Unfinished); len(got) != 1 || got[0] != "Mine" {
		t.Fatalf("u1 tasks = %v", got)
	}
}

func TestDeleteFinished(t *testing.T) {
	env := newTestEnv(t)
	tok := token(t, "u1")
	done := env.create(t, tok, "Done", "")
	env.create(t, tok, "Open", "")

	var errResp ErrorResponse
	if code := env.call(t, http.MethodDelete, "/api/tasks/finished?bucket=today", tok, nil, &errResp); code != http.StatusBadRequest || errResp.Error != "There are no finished tasks." {
		t.Fatalf("nothing to clear: %d %q", code, errResp.Error)
	}
	env.call(t, http.MethodPost, "/api/tasks/"+done.ID+"/toggle", tok, nil, nil)

	var prompt ConfirmResponse
	if code := env.call(t, http.MethodDelete, "/api/tasks/finished?bucket=today", tok, nil, &prompt); code != http.StatusConflict || prompt.Prompt != "Delete 1 finished task?" {
		t.Fatalf("unconfirmed clear: %d %+v", code, prompt)
	}
	var res DeleteFinishedResponse
	if code := env.call(t, http.MethodDelete, "/api/tasks/finished?bucket=today&confirm=true", tok, nil, &res); code != http.StatusOK || res.Deleted != 1 {
		t.Fatalf("clear: %d %+v", code, res)
	}
	var list ListResponse
	env.call(t, http.MethodGet, "/api/tasks", tok, nil, &list)
	if got := titles(list.Unfinished); len(got) != 1 || got[0] != "Open" || len(list.Finished) != 0 {
		t.Fatalf("left %v / %v", got, titles(list.Finished))
	}
}

func TestReorder(t *testing.T) {
	env := newTestEnv(t)
	tok := token(t, "u1")
	var ids []string
	for _, title := range []string{"A", "B", "C", "D"} {
		ids = append(ids, env.create(t, tok, title, "").ID)
	}

	var res ReorderResponse
	req := ReorderRequest{SourceID: ids[0], DestinationID: ids[2]}
	if code := env.call(t, http.MethodPost, "/api/tasks/reorder?wait=true", tok, req, &res); code != http.StatusOK {
		t.Fatalf("reorder: %d", code)
	}
	if got := strings.Join(titles(res.Tasks), ""); got != "BCAD" || res.Updated != 3 {
		t.Fatalf("reorder response %s, %d updates", got, res.Updated)
	}

	var list ListResponse
	env.call(t, http.MethodGet, "/api/tasks", tok, nil, &list)
	if got := strings.Join(titles(list.Unfinished), ""); got != "BCAD" {
		t.Fatalf("stored order %s", got)
	}
	for i, task := range list.Unfinished {
		if task.Rank != i+1 {
			t.Fatalf("rank of %s = %d", task.Title, task.Rank)
		}
	}

	env.call(t, http.MethodPost, "/api/tasks/"+ids[3]+"/toggle", tok, nil, nil)
	var errResp ErrorResponse
	req = ReorderRequest{SourceID: ids[3], DestinationID: ids[1]}
	if code := env.call(t, http.MethodPost, "/api/tasks/reorder", tok, req, &errResp); code != http.StatusConflict || errResp.Error != "This task cannot be moved right now." {
		t.Fatalf("finished drag: %d %q", code, errResp.Error)
	}
	req = ReorderRequest{SourceID: "not-an-id"}
	if code := env.call(t, http.MethodPost, "/api/tasks/reorder", tok, req, nil); code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", code)
	}
}

func TestRolloverEndpoint(t *testing.T) {
	env := newTestEnv(t)
	tok := token(t, "u1")
	env.create(t, tok, "Buy milk", "")
	env.create(t, tok, "Plan trip", "tomorrow")

	var res RolloverResponse
	if code := env.call(t, http.MethodPost, "/api/rollover", tok, nil, &res); code != http.StatusOK || res.Moved != 1 || res.AlreadyDone {
		t.Fatalf("rollover: %d %+v", code, res)
	}
	if code := env.call(t, http.MethodPost, "/api/rollover", tok, nil, &res); code != http.StatusOK || !res.AlreadyDone {
		t.Fatalf("second rollover: %d %+v", code, res)
	}

	var list ListResponse
	env.call(t, http.MethodGet, "/api/tasks", tok, nil, &list)
	if got := strings.Join(titles(list.Unfinished), ","); got != "Buy milk,Plan trip" || list.Unfinished[1].Rank != 2 {
		t.Fatalf("today = %s", got)
	}
}

func TestWebSocketFeed(t *testing.T) {
	env := newTestEnv(t)
	tok := token(t, "u1")

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/ws?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !env.provider.SignedIn("u1") {
		if time.Now().After(deadline) {
			t.Fatal("user not signed in after connecting")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.create(t, tok, "Plan trip", "tomorrow")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != MessageTasks || msg.Bucket != "tomorrow" {
		t.Fatalf("message %+v", msg)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for env.provider.SignedIn("u1") {
		if time.Now().After(deadline) {
			t.Fatal("user still signed in after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
