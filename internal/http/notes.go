package http

import (
	"context"
	"net/http"

	"github.com/flurbudurbur/nanosync/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/pkg/errors"
)

type notesService interface {
	Create(ctx context.Context, title string, body string) (*domain.Note, error)
	Save(ctx context.Context, note *domain.Note) error
	Destroy(ctx context.Context, id string) error
	Find(ctx context.Context, id string) (*domain.Note, error)
}

type notesHandler struct {
	encoder encoder
	service notesService
}

func newNotesHandler(encoder encoder, service notesService) *notesHandler {
	return &notesHandler{
		encoder: encoder,
		service: service,
	}
}

func (h notesHandler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Route("/{noteID}", func(r chi.Router) {
		r.Get("/", h.find)
		r.Put("/", h.update)
		r.Delete("/", h.destroy)
	})
}

type noteRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (h notesHandler) create(w http.ResponseWriter, r *http.Request) {
	var data noteRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, errors.Wrap(err, "invalid note"))
		return
	}

	note, err := h.service.Create(r.Context(), data.Title, data.Body)
	if err != nil {
		h.encoder.DomainError(w, err)
		return
	}

	h.encoder.StatusCreatedData(w, note)
}

func (h notesHandler) find(w http.ResponseWriter, r *http.Request) {
	note, err := h.service.Find(r.Context(), chi.URLParam(r, "noteID"))
	if err != nil {
		h.encoder.DomainError(w, err)
		return
	}

	render.JSON(w, r, note)
}

func (h notesHandler) update(w http.ResponseWriter, r *http.Request) {
	var data noteRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, errors.Wrap(err, "invalid note"))
		return
	}

	note, err := h.service.Find(r.Context(), chi.URLParam(r, "noteID"))
	if err != nil {
		h.encoder.DomainError(w, err)
		return
	}

	note.Title = data.Title
	note.Body = data.Body

	if err := h.service.Save(r.Context(), note); err != nil {
		h.encoder.DomainError(w, err)
		return
	}

	render.JSON(w, r, note)
}

func (h notesHandler) destroy(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Destroy(r.Context(), chi.URLParam(r, "noteID")); err != nil {
		h.encoder.DomainError(w, err)
		return
	}

	h.encoder.NoContent(w)
}
