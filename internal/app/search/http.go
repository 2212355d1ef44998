package search

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/platform/httpserver"
)

type Handler struct {
	Service *Service
	Logger  *log.Entry
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
	// Auth, when set, wraps every search route.
	Auth func(http.Handler) http.Handler
}

func NewHandler(service *Service, logger *log.Entry) *Handler {
	return &Handler{Service: service, Logger: logger}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	if h.RateLimit > 0 {
		r.Use(httprate.LimitByIP(h.RateLimit, time.Minute))
	}
	r.Use(render.SetContentType(render.ContentTypeJSON))
	if h.Auth != nil {
		r.Use(h.Auth)
	}
	r.Get("/api/search", h.handleSearch)
	r.Get("/api/search/{identifier}", h.handleGet)
	return r
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.Service.Search(r.Context(), q)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidPage), errors.Is(err, ErrInvalidPageSize):
			httpserver.WriteError(w, r, http.StatusBadRequest, err.Error())
		default:
			h.Logger.WithField("error", err).WithField("search_by", q.SearchBy).Error("search failed")
			httpserver.WriteError(w, r, http.StatusInternalServerError, "search is temporarily unavailable")
		}
		return
	}
	httpserver.WriteJSON(w, r, http.StatusOK, page)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	doc, err := h.Service.Get(r.Context(), identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpserver.WriteError(w, r, http.StatusNotFound, "document not found")
			return
		}
		h.Logger.WithField("error", err).WithField("identifier", identifier).Error("get document failed")
		httpserver.WriteError(w, r, http.StatusInternalServerError, "search is temporarily unavailable")
		return
	}
	httpserver.WriteJSON(w, r, http.StatusOK, doc)
}

func parseQuery(r *http.Request) (Query, error) {
	values := r.URL.Query()
	q := Query{
		SearchBy:   values.Get("searchBy"),
		PageNumber: 1,
		Type:       values.Get("type"),
		AccountID:  values.Get("accountId"),
	}
	if raw := values.Get("pageNumber"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, ErrInvalidPage
		}
		q.PageNumber = n
	}
	if raw := values.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n == 0 {
			return q, ErrInvalidPageSize
		}
		q.PageSize = n
	}
	if raw := values.Get("isActive"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return q, errors.New("isActive must be true or false")
		}
		q.IsActive = &active
	}
	return q, nil
}
