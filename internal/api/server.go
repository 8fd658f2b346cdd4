// Package api serves the planner over JSON HTTP with a WebSocket change feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"today-planner/internal/model"
	"today-planner/internal/repository"
	"today-planner/internal/service"
)

// RolloverRunner runs an on-demand rollover pass.
type RolloverRunner interface {
	RunNow(ctx context.Context, userID string) (service.RolloverResult, error)
}

type Server struct {
	tasks    *service.TaskService
	reorder  *service.Reorderer
	rollover RolloverRunner
	hub      *Hub
	secret   []byte
	origins  []string
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewServer(tasks *service.TaskService, reorder *service.Reorderer, rollover RolloverRunner, hub *Hub, secret string, origins []string) *Server {
	s := &Server{
		tasks:    tasks,
		reorder:  reorder,
		rollover: rollover,
		hub:      hub,
		secret:   []byte(secret),
		origins:  origins,
		validate: newValidator(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Handler builds the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.Auth)
	api.HandleFunc("/tasks", s.listTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.createTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/reorder", s.reorderTasks).Methods(http.MethodPost)
	api.HandleFunc("/tasks/finished", s.deleteFinished).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{id}", s.editTask).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{id}", s.deleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{id}/toggle", s.toggleTask).Methods(http.MethodPost)
	api.HandleFunc("/rollover", s.runRollover).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

// Notify pushes a reload hint for the bucket to the user's connections.
func (s *Server) Notify(userID string, bucket model.Bucket) {
	s.hub.Broadcast(userID, Message{Type: MessageTasks, Bucket: string(bucket)})
}

// NotifyError pushes a transient error message.
func (s *Server) NotifyError(userID, op string, err error) {
	s.hub.Broadcast(userID, Message{Type: MessageError, Text: service.UserMessage(op, err)})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	bucket, err := model.ParseBucket(r.URL.Query().Get("bucket"))
	if err != nil {
		s.fail(w, "load tasks", &service.ValidationError{Field: "bucket", Msg: err.Error()})
		return
	}
	tasks, err := s.tasks.List(r.Context(), userFrom(r.Context()), bucket)
	if err != nil {
		s.fail(w, "load tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Date:       string(bucket),
		Unfinished: toTaskResponses(model.Unfinished(tasks)),
		Finished:   toTaskResponses(model.Finished(tasks)),
	})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !s.decode(w, r, "add task", &req) {
		return
	}
	task, err := s.tasks.CreateTask(r.Context(), userFrom(r.Context()), service.TaskInput{
		Title:       req.Title,
		Description: req.Description,
		Bucket:      model.Bucket(req.Bucket),
	})
	if err != nil {
		s.fail(w, "add task", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskResponse(*task))
}

func (s *Server) editTask(w http.ResponseWriter, r *http.Request) {
	var req EditTaskRequest
	if !s.decode(w, r, "update task", &req) {
		return
	}
	task, err := s.tasks.EditTask(r.Context(), userFrom(r.Context()), mux.Vars(r)["id"], req.Title, req.Description)
	if err != nil {
		s.fail(w, "update task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(*task))
}

func (s *Server) toggleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.ToggleFinished(r.Context(), userFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, "update task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(*task))
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.tasks.PrepareDelete(ctx, userFrom(ctx), mux.Vars(r)["id"])
	if errors.Is(err, repository.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.fail(w, "delete task", err)
		return
	}
	if !confirmed(r) {
		writeJSON(w, http.StatusConflict, ConfirmResponse{Prompt: c.Prompt, Count: c.Count})
		return
	}
	if err := s.tasks.Confirm(ctx, c); err != nil {
		s.fail(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteFinished(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket, err := model.ParseBucket(r.URL.Query().Get("bucket"))
	if err != nil {
		s.fail(w, "delete tasks", &service.ValidationError{Field: "bucket", Msg: err.Error()})
		return
	}
	c, err := s.tasks.PrepareClearFinished(ctx, userFrom(ctx), bucket)
	if err != nil {
		s.fail(w, "delete tasks", err)
		return
	}
	if !confirmed(r) {
		writeJSON(w, http.StatusConflict, ConfirmResponse{Prompt: c.Prompt, Count: c.Count})
		return
	}
	n, err := s.tasks.DeleteAllFinished(ctx, c.UserID, c.Bucket)
	if err != nil {
		s.fail(w, "delete tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteFinishedResponse{Deleted: n})
}

// reorderTasks answers with the new order right away. Rank writes finish in
// the background and failures reach the client on the change feed, unless
// wait=true asks for them in the response.
func (s *Server) reorderTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ReorderRequest
	if !s.decode(w, r, "reorder tasks", &req) {
		return
	}
	bucket, _ := model.ParseBucket(req.Bucket)

	board, err := s.tasks.Board(ctx, userFrom(ctx))
	if err != nil {
		s.fail(w, "reorder tasks", err)
		return
	}
	res, err := s.reorder.Move(ctx, board, bucket, req.SourceID, req.DestinationID)
	if err != nil {
		s.fail(w, "reorder tasks", err)
		return
	}

	status := http.StatusAccepted
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := res.Wait(); err != nil {
			s.fail(w, "reorder tasks", err)
			return
		}
		status = http.StatusOK
	}
	writeJSON(w, status, ReorderResponse{
		Date:    string(bucket),
		Tasks:   toTaskResponses(res.Tasks),
		Updated: len(res.Updates),
	})
}

func (s *Server) runRollover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := s.rollover.RunNow(ctx, userFrom(ctx))
	if err != nil {
		s.fail(w, "move tomorrow's tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, RolloverResponse{Date: res.Date, Moved: res.Moved, AlreadyDone: res.AlreadyDone})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade", "user", userID, "err", err)
		return
	}
	client := s.hub.Attach(conn, userID)
	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request format."})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.fail(w, op, validationError(err))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNotDraggable), errors.Is(err, service.ErrRolloverRunning):
		status = http.StatusConflict
	default:
		slog.Error("request failed", "op", op, "err", err)
	}
	writeJSON(w, status, ErrorResponse{Error: service.UserMessage(op, err)})
}

func confirmed(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	return ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}
