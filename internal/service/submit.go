package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/LeventeLantos/postcard-messaging/internal/model"
)

type SubmitRequest struct {
	RecipientName    string
	RecipientPhone   string
	Message          string
	ImageReference   string
	ImageData        []byte
	ImageContentType string
}

func (r SubmitRequest) validate() error {
	if strings.TrimSpace(r.RecipientPhone) == "" {
		return missing("recipientPhone")
	}
	if !strings.ContainsAny(r.RecipientPhone, "0123456789") {
		return &ValidationError{Field: "recipientPhone", Reason: "must contain digits"}
	}
	if strings.TrimSpace(r.RecipientName) == "" {
		return missing("recipientName")
	}
	if r.ImageReference == "" && len(r.ImageData) == 0 {
		return missing("imageReference")
	}
	return nil
}

// Submit stores a new postcard and asks the recipient for an address. The
// returned record reflects the state after the request attempt; on a send
// failure it is returned together with the error.
func (w *Workflow) Submit(ctx context.Context, req SubmitRequest) (p model.Postcard, err error) {
	ctx, span := tracer.Start(ctx, "workflow.submit")
	defer func() { endSpan(span, err) }()

	if err := req.validate(); err != nil {
		return model.Postcard{}, err
	}

	ref := req.ImageReference
	if len(req.ImageData) > 0 {
		if w.images == nil {
			return model.Postcard{}, &ValidationError{Field: "imageData", Reason: "image uploads are not enabled"}
		}
		ref, err = w.images.Upload(ctx, req.ImageData, req.ImageContentType)
		if err != nil {
			return model.Postcard{}, fmt.Errorf("service: upload image: %w", err)
		}
	}

	p, err = w.store.Create(ctx, model.Postcard{
		RecipientPhone: req.RecipientPhone,
		RecipientName:  req.RecipientName,
		Message:        req.Message,
		ImageReference: ref,
		Status:         model.Pending,
	})
	if err != nil {
		return model.Postcard{}, fmt.Errorf("service: create postcard: %w", err)
	}
	span.SetAttributes(attribute.String("postcard.id", p.ID))
	w.logger.Info("postcard created", "postcard_id", p.ID, "recipient", p.RecipientPhone)

	reqErr := w.RequestAddress(ctx, p)

	stored, gerr := w.store.Get(context.WithoutCancel(ctx), p.ID)
	if gerr == nil {
		p = stored
	}
	return p, reqErr
}

// RequestPending re-sends address requests for postcards left pending longer
// than minAge, for example after a crash between create and send.
func (w *Workflow) RequestPending(ctx context.Context, minAge time.Duration, limit int) (requested, failed int, err error) {
	ctx, span := tracer.Start(ctx, "workflow.request_pending")
	defer func() { endSpan(span, err) }()

	pending, err := w.store.ListByStatus(ctx, model.Pending, w.now().Add(-minAge), limit)
	if err != nil {
		return 0, 0, fmt.Errorf("service: list pending postcards: %w", err)
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if rerr := w.RequestAddress(ctx, p); rerr != nil {
			if errors.Is(rerr, context.Canceled) {
				break
			}
			failed++
			w.logger.Warn("pending address request failed", "postcard_id", p.ID, "error", rerr)
			continue
		}
		requested++
	}

	span.SetAttributes(
		attribute.Int("postcard.requested", requested),
		attribute.Int("postcard.failed", failed),
	)
	w.metrics.ObserveSweep(requested, failed)
	return requested, failed, nil
}
