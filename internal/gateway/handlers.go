package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"devcrew/internal/agent"
	"devcrew/internal/crew"

	"github.com/go-playground/validator/v10"
)

const successMessage = "Software development initiated!"

type developRequest struct {
	ProblemStatement string `json:"problem_statement" validate:"required"`
}

type developResponse struct {
	Message string       `json:"message"`
	Result  *crew.Output `json:"result"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// validationIssue mirrors one entry of a FastAPI 422 body.
type validationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type validationResponse struct {
	Detail []validationIssue `json:"detail"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

func (s *Server) handleDevelop(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDevelopRequest(w, r)
	if !ok {
		return
	}

	out, err := s.develop(r.Context(), req.ProblemStatement, agent.Discard)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: errorDetail(err)})
		return
	}
	writeJSON(w, http.StatusOK, developResponse{Message: successMessage, Result: out})
}

func (s *Server) handleDevelopStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDevelopRequest(w, r)
	if !ok {
		return
	}

	sse := NewSSEWriter(w)
	out, err := s.develop(r.Context(), req.ProblemStatement, func(ev agent.Event) {
		if err := sse.Send(string(ev.Type), ev.Data); err != nil {
			s.logger.Debug("gateway: sse write failed", "error", err)
		}
	})
	if err != nil {
		sse.Send(string(agent.EventError), errorResponse{Detail: errorDetail(err)})
		return
	}
	sse.Send("result", developResponse{Message: successMessage, Result: out})
}

// develop runs the crew and turns a panic into an error.
func (s *Server) develop(ctx context.Context, problemStatement string, emit func(agent.Event)) (out *crew.Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		if err != nil {
			s.logger.Error("gateway: develop failed", "error", err)
		}
	}()
	return s.crew.Develop(ctx, problemStatement, emit)
}

func errorDetail(err error) string {
	return "An error occurred: " + err.Error()
}

type agentResponse struct {
	Key     string   `json:"key"`
	Role    string   `json:"role"`
	Goal    string   `json:"goal"`
	Tools   []string `json:"tools"`
	Manager bool     `json:"manager"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	manager := s.crew.Manager()
	profiles := s.crew.Profiles()

	agents := make([]agentResponse, len(profiles))
	for i, p := range profiles {
		agents[i] = agentResponse{
			Key:     p.Key,
			Role:    p.Role,
			Goal:    p.Goal,
			Tools:   append([]string{}, p.Tools...),
			Manager: manager != nil && p.Key == manager.Key,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// decodeDevelopRequest writes a 422 and reports false when the body is not a
// valid develop request.
func decodeDevelopRequest(w http.ResponseWriter, r *http.Request) (developRequest, bool) {
	var req developRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Detail: []validationIssue{decodeIssue(err)}})
		return req, false
	}
	if err := validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Detail: fieldIssues(err)})
		return req, false
	}
	return req, true
}

func decodeIssue(err error) validationIssue {
	var typeErr *json.UnmarshalTypeError
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &typeErr):
		return validationIssue{
			Loc:  []string{"body", typeErr.Field},
			Msg:  "Input should be a valid " + typeErr.Type.Kind().String(),
			Type: typeErr.Type.Kind().String() + "_type",
		}
	case errors.As(err, &maxBytesErr):
		return validationIssue{
			Loc:  []string{"body"},
			Msg:  fmt.Sprintf("Request body exceeds %d bytes", maxBytesErr.Limit),
			Type: "too_long",
		}
	case errors.Is(err, io.EOF):
		return validationIssue{Loc: []string{"body"}, Msg: "Field required", Type: "missing"}
	default:
		return validationIssue{Loc: []string{"body"}, Msg: "JSON decode error: " + err.Error(), Type: "json_invalid"}
	}
}

func fieldIssues(err error) []validationIssue {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []validationIssue{{Loc: []string{"body"}, Msg: err.Error(), Type: "value_error"}}
	}
	issues := make([]validationIssue, len(verrs))
	for i, fe := range verrs {
		issues[i] = validationIssue{Loc: []string{"body", fe.Field()}, Msg: "Field required", Type: "missing"}
		if fe.Tag() != "required" {
			issues[i].Msg = fmt.Sprintf("Value failed %q validation", fe.Tag())
			issues[i].Type = "value_error"
		}
	}
	return issues
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
