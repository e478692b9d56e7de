package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/LeventeLantos/postcard-messaging/internal/metrics"
	"github.com/LeventeLantos/postcard-messaging/internal/service"
)

const (
	signingSecretHeader = "sb-signing-secret"
	maxWebhookBytes     = 64 << 10
)

// sendbluePayload is the subset of the inbound message callback we use.
type sendbluePayload struct {
	FromNumber    string `json:"from_number"`
	Content       string `json:"content"`
	MessageHandle string `json:"message_handle"`
	IsOutbound    bool   `json:"is_outbound"`
}

func (h *Handler) SendblueWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.ObserveWebhookLatency(time.Since(start).Seconds()) }()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if h.webhookSecret != "" {
		got := r.Header.Get(signingSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid signing secret")
			return
		}
	}

	var payload sendbluePayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBytes)).Decode(&payload); err != nil {
		h.metrics.ObserveInbound(metrics.InboundInvalid)
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	// Status callbacks for our own sends arrive on the same URL.
	if payload.IsOutbound {
		h.metrics.ObserveInbound(metrics.InboundOutbound)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ignored": "outbound"})
		return
	}

	h.logger.Info("received message", "from", payload.FromNumber, "message_handle", payload.MessageHandle)

	ctx := r.Context()
	dedupe := h.cache != nil && payload.MessageHandle != ""
	if dedupe {
		first, err := h.cache.MarkInbound(ctx, payload.MessageHandle)
		if err != nil {
			h.logger.Warn("inbound dedupe unavailable", "error", err)
			dedupe = false
		} else if !first {
			h.metrics.ObserveInbound(metrics.InboundDuplicate)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "duplicate": true})
			return
		}
	}

	res, err := h.workflow.HandleInboundReply(ctx, payload.FromNumber, payload.Content)

	var vErr *service.ValidationError
	switch {
	case err == nil:
		h.metrics.ObserveInbound(metrics.InboundMatched)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
	case errors.As(err, &vErr):
		h.metrics.ObserveInbound(metrics.InboundInvalid)
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, service.ErrNoMatch):
		h.metrics.ObserveInbound(metrics.InboundNoMatch)
		writeError(w, http.StatusNotFound, "no matching postcard found")
	default:
		h.metrics.ObserveInbound(metrics.InboundError)
		h.logger.Error("webhook processing failed", "error", err)
		if dedupe {
			// Let the provider's redelivery be processed.
			if rerr := h.cache.ReleaseInbound(context.WithoutCancel(ctx), payload.MessageHandle); rerr != nil {
				h.logger.Warn("failed to release inbound marker", "error", rerr)
			}
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
