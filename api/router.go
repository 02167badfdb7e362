package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"showtime-api/models"
	"showtime-api/services"
	"showtime-api/utils"
)

// MovieSource answers "what is bookable in city".
type MovieSource interface {
	Movies(ctx context.Context, city string) (*services.Result, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the movies API.
type Handler struct {
	source      MovieSource
	matcher     *services.Matcher
	pinger      Pinger
	defaultCity string
	logger      *utils.Logger
}

// NewHandler creates a Handler. pinger may be nil.
func NewHandler(source MovieSource, matcher *services.Matcher, pinger Pinger, defaultCity string, logger *utils.Logger) *Handler {
	return &Handler{
		source:      source,
		matcher:     matcher,
		pinger:      pinger,
		defaultCity: defaultCity,
		logger:      logger,
	}
}

// NewRouter mounts the API routes with CORS open to any origin.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Origin"},
		MaxAge:         300,
	}))

	r.Get("/movies", h.getMovies)
	r.Get("/healthz", h.health)
	return r
}

func (h *Handler) getMovies(w http.ResponseWriter, r *http.Request) {
	city := services.NormalizeCity(r.URL.Query().Get("city"))
	if city == "" {
		city = h.defaultCity
	}
	query := r.URL.Query().Get("query")

	res, err := h.source.Movies(r.Context(), city)
	if err != nil {
		h.logger.Error("[api] /movies city=%s: %v", city, err)
		h.write(w, http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("Failed to scrape movies: %v", err)})
		return
	}

	movies := h.matcher.Match(res.Movies, query)
	if movies == nil {
		movies = []models.Movie{}
	}

	h.write(w, http.StatusOK, models.MoviesResponse{
		City:   city,
		Movies: movies,
		Count:  len(movies),
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			h.write(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
	}
	h.write(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		h.logger.Warn("[api] write response: %v", err)
	}
}

func requestLogger(logger *utils.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("[api] %s %s -> %d (%v) req=%s", r.Method, r.URL.RequestURI(), ww.Status(),
				time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
		})
	}
}
