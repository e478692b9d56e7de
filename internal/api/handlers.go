package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/LeventeLantos/postcard-messaging/internal/cache"
	"github.com/LeventeLantos/postcard-messaging/internal/metrics"
	"github.com/LeventeLantos/postcard-messaging/internal/repo"
	"github.com/LeventeLantos/postcard-messaging/internal/scheduler"
	"github.com/LeventeLantos/postcard-messaging/internal/service"
)

type Handler struct {
	sweeper       *scheduler.Scheduler
	workflow      *service.Workflow
	store         repo.PostcardRepository
	cache         cache.MessageCache
	metrics       *metrics.PostcardMetrics
	logger        *slog.Logger
	webhookSecret string
}

type HandlerConfig struct {
	Sweeper  *scheduler.Scheduler
	Workflow *service.Workflow
	Store    repo.PostcardRepository

	// Optional.
	Cache         cache.MessageCache
	Metrics       *metrics.PostcardMetrics
	Logger        *slog.Logger
	WebhookSecret string
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sweeper:       cfg.Sweeper,
		workflow:      cfg.Workflow,
		store:         cfg.Store,
		cache:         cfg.Cache,
		metrics:       cfg.Metrics,
		logger:        logger,
		webhookSecret: cfg.WebhookSecret,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SweeperStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sweeper.Status())
}

func (h *Handler) SweeperStart(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sweeper.IsRunning()})
}

func (h *Handler) SweeperStop(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sweeper.IsRunning()})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
