package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"today-planner/internal/model"
	"today-planner/internal/service"
)

// === Requests ===

type CreateTaskRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Bucket      string `json:"date" validate:"omitempty,oneof=today tomorrow"`
}

type EditTaskRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type ReorderRequest struct {
	Bucket        string `json:"date" validate:"omitempty,oneof=today tomorrow"`
	SourceID      string `json:"sourceId" validate:"required,uuid"`
	DestinationID string `json:"destinationId" validate:"omitempty,uuid"`
}

// === Responses ===

type TaskResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        string    `json:"date"`
	IsFinished  bool      `json:"isFinished"`
	Rank        int       `json:"rank"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ListResponse struct {
	Date       string         `json:"date"`
	Unfinished []TaskResponse `json:"unfinished"`
	Finished   []TaskResponse `json:"finished"`
}

type ReorderResponse struct {
	Date    string         `json:"date"`
	Tasks   []TaskResponse `json:"tasks"`
	Updated int            `json:"updated"`
}

type ConfirmResponse struct {
	Prompt string `json:"prompt"`
	Count  int    `json:"count"`
}

type DeleteFinishedResponse struct {
	Deleted int `json:"deleted"`
}

type RolloverResponse struct {
	Date        string `json:"date"`
	Moved       int    `json:"moved"`
	AlreadyDone bool   `json:"alreadyDone"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toTaskResponse(t model.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Date:        string(model.Classify(t)),
		IsFinished:  t.IsFinished,
		Rank:        t.Rank,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func toTaskResponses(tasks []model.Task) []TaskResponse {
	out := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskResponse(t)
	}
	return out
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns the first failed rule into a service validation error
// so handlers map it like any other invalid input.
func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	fe := errs[0]
	field := fe.Field()
	var msg string
	switch fe.Tag() {
	case "required":
		msg = field + " is required"
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		msg = fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "uuid":
		msg = field + " must be a task id"
	default:
		msg = field + " is invalid"
	}
	return &service.ValidationError{Field: field, Msg: msg}
}
