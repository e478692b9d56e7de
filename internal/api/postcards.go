package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LeventeLantos/postcard-messaging/internal/client"
	"github.com/LeventeLantos/postcard-messaging/internal/model"
	"github.com/LeventeLantos/postcard-messaging/internal/repo"
	"github.com/LeventeLantos/postcard-messaging/internal/service"
)

const (
	maxSubmitBytes = 10 << 20
	maxListLimit   = 500
)

type submitRequest struct {
	RecipientName    string `json:"recipientName"`
	RecipientPhone   string `json:"recipientPhone"`
	Message          string `json:"message"`
	ImageReference   string `json:"imageReference"`
	ImageData        []byte `json:"imageData"`
	ImageContentType string `json:"imageContentType"`
}

func (h *Handler) SubmitPostcard(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	p, err := h.workflow.Submit(r.Context(), service.SubmitRequest{
		RecipientName:    req.RecipientName,
		RecipientPhone:   req.RecipientPhone,
		Message:          req.Message,
		ImageReference:   req.ImageReference,
		ImageData:        req.ImageData,
		ImageContentType: req.ImageContentType,
	})

	var (
		vErr  *service.ValidationError
		gwErr *client.GatewayError
	)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, p)
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.As(err, &gwErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":    gwErr.Error(),
			"postcard": p,
		})
	default:
		h.logger.Error("submit postcard failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) ListPostcards(w http.ResponseWriter, r *http.Request) {
	limit := min(parseInt(r.URL.Query().Get("limit"), 50), maxListLimit)
	if limit <= 0 {
		limit = 50
	}
	offset := parseInt(r.URL.Query().Get("offset"), 0)
	status := model.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	items := make([]model.Postcard, 0)
	skipped := 0
	for p, err := range h.store.ListAll(r.Context(), true) {
		if err != nil {
			h.logger.Error("list postcards failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if status != "" && p.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(items) >= limit {
			break
		}
		items = append(items, p)
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetPostcard(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, p)
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "postcard not found")
	default:
		h.logger.Error("get postcard failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
