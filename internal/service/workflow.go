package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LeventeLantos/postcard-messaging/internal/cache"
	"github.com/LeventeLantos/postcard-messaging/internal/client"
	"github.com/LeventeLantos/postcard-messaging/internal/metrics"
	"github.com/LeventeLantos/postcard-messaging/internal/model"
	"github.com/LeventeLantos/postcard-messaging/internal/phone"
	"github.com/LeventeLantos/postcard-messaging/internal/repo"
)

const (
	addressPromptFormat = "Hi! %s is trying to send you a postcard 💌 What address should we send it to?"
	thankYouMessage     = "Thank you! Your postcard will be on its way soon! 📬"

	DefaultSenderName = "Someone"
)

var tracer = otel.Tracer("postcard/service/workflow")

type Gateway interface {
	Send(ctx context.Context, phoneNumber, message string) (messageHandle string, err error)
}

type ImageUploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

type Options struct {
	SenderName   string
	MaxAttempts  int
	RetryBackoff time.Duration

	Cache   cache.MessageCache
	Images  ImageUploader
	Metrics *metrics.PostcardMetrics
	Logger  *slog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Workflow drives a postcard from pending to a known mailing address.
type Workflow struct {
	store   repo.PostcardRepository
	gateway Gateway

	senderName   string
	maxAttempts  int
	retryBackoff time.Duration

	cache   cache.MessageCache
	images  ImageUploader
	metrics *metrics.PostcardMetrics
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewWorkflow(store repo.PostcardRepository, gateway Gateway, opts Options) *Workflow {
	w := &Workflow{
		store:        store,
		gateway:      gateway,
		senderName:   opts.SenderName,
		maxAttempts:  opts.MaxAttempts,
		retryBackoff: opts.RetryBackoff,
		cache:        opts.Cache,
		images:       opts.Images,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          opts.Now,
		sleep:        opts.Sleep,
	}
	if w.senderName == "" {
		w.senderName = DefaultSenderName
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 1
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.sleep == nil {
		w.sleep = sleepCtx
	}
	return w
}

// InboundResult describes what an inbound reply changed.
type InboundResult struct {
	PostcardID   string       `json:"postcardId"`
	Status       model.Status `json:"status"`
	ThankYouSent bool         `json:"thankYouSent"`
}

// RequestAddress texts the recipient for their mailing address and moves the
// record to addressRequested. A failed send marks the record failed and the
// send error is returned.
func (w *Workflow) RequestAddress(ctx context.Context, p model.Postcard) (err error) {
	ctx, span := tracer.Start(ctx, "workflow.request_address", trace.WithAttributes(
		attribute.String("postcard.id", p.ID),
	))
	defer func() { endSpan(span, err) }()

	to := phone.Normalize(p.RecipientPhone)
	msg := fmt.Sprintf(addressPromptFormat, w.senderName)

	handle, err := w.send(ctx, metrics.KindAddressRequest, to, msg, w.maxAttempts)
	if err != nil {
		// A canceled request leaves the record pending for the sweeper.
		if ctx.Err() == nil {
			w.fail(ctx, p.ID, err)
		}
		return fmt.Errorf("service: request address for %s: %w", p.ID, err)
	}

	if w.cache != nil && handle != "" {
		if cerr := w.cache.StoreSent(ctx, p.ID, handle, w.now()); cerr != nil {
			w.logger.Warn("failed to cache message handle", "postcard_id", p.ID, "error", cerr)
		}
	}

	if err := w.store.UpdateStatusIf(ctx, p.ID, model.Pending, model.AddressRequested, repo.UpdateFields{}); err != nil {
		return fmt.Errorf("service: mark %s address requested: %w", p.ID, err)
	}
	w.metrics.ObserveTransition(string(model.AddressRequested))

	w.logger.Info("address requested", "postcard_id", p.ID, "message_handle", handle)
	return nil
}

// HandleInboundReply records the reply content as the address of the most
// recent postcard waiting on that phone, then thanks the sender. The
// thank-you is best effort and never fails the call.
func (w *Workflow) HandleInboundReply(ctx context.Context, fromPhone, content string) (res InboundResult, err error) {
	ctx, span := tracer.Start(ctx, "workflow.handle_inbound_reply")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(fromPhone) == "" {
		return InboundResult{}, missing("from_number")
	}
	if strings.TrimSpace(content) == "" {
		return InboundResult{}, missing("content")
	}

	from := phone.Normalize(fromPhone)

	p, err := w.captureAddress(ctx, from, content)
	if err != nil {
		return InboundResult{}, err
	}
	span.SetAttributes(attribute.String("postcard.id", p.ID))
	w.metrics.ObserveTransition(string(model.AddressReceived))
	w.logger.Info("address received", "postcard_id", p.ID, "from", from)

	res = InboundResult{PostcardID: p.ID, Status: model.AddressReceived}

	if _, serr := w.send(ctx, metrics.KindThankYou, p.RecipientPhone, thankYouMessage, 1); serr != nil {
		w.logger.Warn("thank-you message failed", "postcard_id", p.ID, "error", serr)
		return res, nil
	}
	res.ThankYouSent = true

	if uerr := w.store.UpdateStatusIf(ctx, p.ID, model.AddressReceived, model.Completed, repo.UpdateFields{}); uerr != nil {
		w.logger.Warn("failed to mark postcard completed", "postcard_id", p.ID, "error", uerr)
		return res, nil
	}
	w.metrics.ObserveTransition(string(model.Completed))
	res.Status = model.Completed
	return res, nil
}

// captureAddress looks up the waiting postcard and writes the address with a
// conditional update. When a concurrent delivery wins the race it looks once
// more, so a second waiting postcard for the same phone can still match.
func (w *Workflow) captureAddress(ctx context.Context, from, content string) (model.Postcard, error) {
	for attempt := 0; attempt < 2; attempt++ {
		p, err := w.store.FindActiveByPhone(ctx, from, model.AddressRequested)
		if err != nil {
			return model.Postcard{}, fmt.Errorf("service: find postcard for %s: %w", from, err)
		}
		if p == nil {
			w.logger.Info("no matching postcard found", "from", from)
			return model.Postcard{}, ErrNoMatch
		}

		now := w.now().UTC()
		err = w.store.UpdateStatusIf(ctx, p.ID, model.AddressRequested, model.AddressReceived, repo.UpdateFields{
			Address:           &content,
			AddressReceivedAt: &now,
		})
		switch {
		case err == nil:
			p.Address = &content
			p.AddressRecvAt = &now
			p.Status = model.AddressReceived
			return *p, nil
		case errors.Is(err, repo.ErrStatusConflict):
			w.logger.Info("postcard updated concurrently, retrying lookup", "postcard_id", p.ID)
			continue
		default:
			return model.Postcard{}, fmt.Errorf("service: record address for %s: %w", p.ID, err)
		}
	}
	return model.Postcard{}, ErrNoMatch
}

// send retries rate-limit and server errors with exponential backoff.
func (w *Workflow) send(ctx context.Context, kind, to, msg string, attempts int) (string, error) {
	backoff := w.retryBackoff
	for attempt := 1; ; attempt++ {
		handle, err := w.gateway.Send(ctx, to, msg)
		if err == nil {
			w.metrics.ObserveOutbound(kind, "sent")
			return handle, nil
		}
		w.metrics.ObserveOutbound(kind, outcomeLabel(err))

		var gwErr *client.GatewayError
		if attempt >= attempts || !errors.As(err, &gwErr) || !gwErr.Retryable() {
			return "", err
		}

		w.logger.Warn("send failed, retrying",
			"kind", kind,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", err,
		)
		if err := w.sleep(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
	}
}

func (w *Workflow) fail(ctx context.Context, id string, cause error) {
	reason := cause.Error()
	// The failure must be recorded even when the request context is gone.
	err := w.store.UpdateStatus(context.WithoutCancel(ctx), id, model.Failed, repo.UpdateFields{LastError: &reason})
	if err != nil {
		w.logger.Error("failed to mark postcard failed", "postcard_id", id, "error", err, "cause", cause)
		return
	}
	w.metrics.ObserveTransition(string(model.Failed))
	w.logger.Warn("postcard failed", "postcard_id", id, "error", cause)
}

func outcomeLabel(err error) string {
	var gwErr *client.GatewayError
	if errors.As(err, &gwErr) {
		return string(gwErr.Kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
