package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/KaramelBytes/cleanloom/internal/cleaning"
	"github.com/KaramelBytes/cleanloom/internal/parser"
	"github.com/KaramelBytes/cleanloom/internal/session"
	"github.com/KaramelBytes/cleanloom/internal/source"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= 500 {
		s.log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		s.log.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), RequestID: middleware.GetReqID(r.Context())})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var ve validator.ValidationErrors
	var se *source.StatusError
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoDataset), errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, source.ErrTooLarge), errors.As(err, &mbe), errors.Is(err, cleaning.ErrPromptTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &ve),
		errors.Is(err, errBadJSON),
		errors.Is(err, parser.ErrUnsupported),
		errors.Is(err, parser.ErrEmpty),
		errors.Is(err, source.ErrScheme),
		errors.Is(err, source.ErrDecode),
		errors.Is(err, cleaning.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.As(err, &se), errors.Is(err, cleaning.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// describeValidation turns validator errors into one readable line.
func describeValidation(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := strings.ToLower(fe.Field())
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: must satisfy %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid request: %s", strings.Join(parts, "; "))
}

// decodeBody reads a JSON request body into v. An empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %w", errBadJSON, err)
	}
	return nil
}

var errBadJSON = errors.New("malformed JSON body")
