package listing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	log "github.com/sirupsen/logrus"
	platformauth "github.com/the-marketplace/project/internal/platform/auth"
	"github.com/the-marketplace/project/internal/platform/httpserver"
)

type Handler struct {
	Service       *Service
	Auth          func(http.Handler) http.Handler
	AllowedOrigin string
	Logger        *log.Entry
}

func NewHandler(service *Service, auth func(http.Handler) http.Handler, allowedOrigin string, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Handler{Service: service, Auth: auth, AllowedOrigin: allowedOrigin, Logger: logger}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.CORS(h.AllowedOrigin))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/api/categories", h.handleListCategories)
	r.Get("/api/listings/{id}", h.handleGet)

	r.Group(func(authR chi.Router) {
		authR.Use(h.Auth)
		authR.Post("/api/listings", h.handleCreate)
		authR.Put("/api/listings/{id}", h.handleUpdate)
		authR.Post("/api/listings/{id}/publish", h.handlePublish)
		authR.Delete("/api/listings/{id}", h.handleDelete)
	})
	return r
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Service.ListCategories(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, r, http.StatusOK, categories)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	l, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, r, http.StatusOK, l)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	l, err := h.Service.Create(r.Context(), sellerID(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", l.ResourceURL())
	httpserver.WriteJSON(w, r, http.StatusCreated, l)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	l, err := h.Service.Update(r.Context(), sellerID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, r, http.StatusOK, l)
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	l, err := h.Service.Publish(r.Context(), sellerID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, r, http.StatusOK, l)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), sellerID(r), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTitleRequired), errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrUnknownCategory), errors.Is(err, ErrInvalidID):
		httpserver.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		httpserver.WriteError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyPublished):
		httpserver.WriteError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ErrPublish):
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, ErrPublish.Error())
	default:
		h.Logger.WithField("error", err).WithField("path", r.URL.Path).Error("listing request failed")
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func sellerID(r *http.Request) string {
	claims, _ := platformauth.ClaimsFromContext(r.Context())
	return claims.Subject
}
