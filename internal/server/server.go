package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/watcher"
)

const requestTimeout = 45 * time.Second

// Server exposes the watcher over a JSON HTTP API.
type Server struct {
	watcher *watcher.Watcher
	metrics http.Handler
	mux     *http.ServeMux
	logger  *slog.Logger
}

// NewServer creates an API server. A nil metrics handler disables /metrics.
func NewServer(w *watcher.Watcher, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		watcher: w,
		metrics: metrics,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
	s.mux.HandleFunc("GET /api/v1/areas", s.handleAreas)
	s.mux.HandleFunc("GET /api/v1/quota", s.handleQuota)
	s.mux.HandleFunc("GET /api/v1/search", s.handleSearch)
	s.mux.HandleFunc("POST /api/v1/alerts", s.handleCreateAlert)
	s.mux.HandleFunc("GET /api/v1/alerts", s.handleListAlerts)
	s.mux.HandleFunc("DELETE /api/v1/alerts/{id}", s.handleDeactivateAlert)
	s.mux.HandleFunc("GET /api/v1/alerts/{id}/history", s.handleAlertHistory)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/check", s.handleCheckAlert)
	s.mux.HandleFunc("GET /api/v1/trend", s.handleTrend)
	s.mux.HandleFunc("POST /api/v1/recommend", s.handleRecommend)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAreas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.watcher.Areas())
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	userID, err := parseUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	left, err := s.watcher.Remaining(ctx, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": left})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	q := r.URL.Query()
	userID, err := parseUserID(q.Get("user_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	in, out, err := parseStay(q.Get("check_in"), q.Get("check_out"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	guests, err := parseInt(q.Get("guests"), "guests")
	if err != nil {
		s.writeError(w, err)
		return
	}

	quotes, err := s.watcher.Search(ctx, userID, q.Get("area"), in, out, guests)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

type createAlertRequest struct {
	UserID   int64           `json:"user_id"`
	Area     string          `json:"area"`
	CheckIn  string          `json:"check_in"`
	CheckOut string          `json:"check_out"`
	MaxPrice decimal.Decimal `json:"max_price"`
	Guests   int             `json:"guests,omitempty"`
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req createAlertRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.UserID <= 0 {
		s.writeError(w, fmt.Errorf("%w: user_id is required", model.ErrValidation))
		return
	}
	in, out, err := parseStay(req.CheckIn, req.CheckOut)
	if err != nil {
		s.writeError(w, err)
		return
	}

	alert, err := s.watcher.CreateAlert(ctx, req.UserID, req.Area, in, out, req.MaxPrice, req.Guests)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	userID, err := parseUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	all := r.URL.Query().Get("all") == "true"

	alerts, err := s.watcher.ListAlerts(ctx, userID, all)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleDeactivateAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	userID, err := parseUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.watcher.DeactivateAlert(ctx, userID, r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	q := r.URL.Query()
	userID, err := parseUserID(q.Get("user_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	days, err := parseInt(q.Get("days"), "days")
	if err != nil {
		s.writeError(w, err)
		return
	}

	entries, err := s.watcher.AlertHistory(ctx, userID, r.PathValue("id"), days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.PriceHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type checkResponse struct {
	AlertID     string            `json:"alert_id"`
	Quote       *model.PriceQuote `json:"quote,omitempty"`
	Written     bool              `json:"written"`
	Triggered   bool              `json:"triggered"`
	Notified    bool              `json:"notified"`
	Deactivated bool              `json:"deactivated"`
	FailStreak  int               `json:"fail_streak"`
}

func (s *Server) handleCheckAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	userID, err := parseUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.watcher.CheckAlert(ctx, userID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{
		AlertID:     res.AlertID,
		Quote:       res.Quote,
		Written:     res.Written,
		Triggered:   res.Triggered,
		Notified:    res.Notified,
		Deactivated: res.Deactivated,
		FailStreak:  res.FailStreak,
	})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	q := r.URL.Query()
	userID, err := parseUserID(q.Get("user_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	in, out, err := parseStay(q.Get("check_in"), q.Get("check_out"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	days, err := parseInt(q.Get("days"), "days")
	if err != nil {
		s.writeError(w, err)
		return
	}

	trend, err := s.watcher.Trend(ctx, userID, q.Get("area"), in, out, days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

type recommendRequest struct {
	UserID   int64  `json:"user_id"`
	Area     string `json:"area"`
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
	Question string `json:"question"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req recommendRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.UserID <= 0 {
		s.writeError(w, fmt.Errorf("%w: user_id is required", model.ErrValidation))
		return
	}
	in, out, err := parseStay(req.CheckIn, req.CheckOut)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rec, err := s.watcher.Recommend(ctx, req.UserID, req.Area, in, out, req.Question)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// writeError maps the error taxonomy onto HTTP status codes. Only
// user-safe text reaches the response body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrAuth), errors.Is(err, model.ErrProvider):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": model.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: invalid request body", model.ErrValidation)
	}
	return nil
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: user_id must be a positive integer", model.ErrValidation)
	}
	return id, nil
}

func parseInt(s, name string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", model.ErrValidation, name)
	}
	return n, nil
}

func parseStay(checkIn, checkOut string) (time.Time, time.Time, error) {
	in, err := model.ParseDate(checkIn)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	out, err := model.ParseDate(checkOut)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return in, out, nil
}
