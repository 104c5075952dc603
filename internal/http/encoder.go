package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/flurbudurbur/nanosync/internal/domain"

	"github.com/pkg/errors"
)

type encoder struct{}

type errorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

func (e encoder) StatusResponse(ctx context.Context, w http.ResponseWriter, response interface{}, status int) {
	if response == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(response)
}

func (e encoder) StatusCreated(w http.ResponseWriter) {
	w.WriteHeader(http.StatusCreated)
}

func (e encoder) StatusCreatedData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)

	_ = json.NewEncoder(w).Encode(data)
}

func (e encoder) NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func (e encoder) StatusNotFound(ctx context.Context, w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
}

func (e encoder) StatusInternalError(w http.ResponseWriter) {
	w.WriteHeader(http.StatusInternalServerError)
}

func (e encoder) StatusError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(errorResponse{Message: err.Error(), Status: status})
}

func (e encoder) Error(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)

	_ = json.NewEncoder(w).Encode(errorResponse{Message: err.Error()})
}

// DomainError maps domain sentinel errors to status codes.
func (e encoder) DomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrEntityNotFound):
		e.StatusError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidEntityID), errors.Is(err, domain.ErrInvalidEntityType):
		e.StatusError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrDispatcherStopped):
		e.StatusError(w, http.StatusServiceUnavailable, err)
	default:
		e.Error(w, err)
	}
}
