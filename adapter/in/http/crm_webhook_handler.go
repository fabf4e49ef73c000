package http

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/in"
	"crm_server/pkg/logger"
	"crm_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
)

const webhookPath = "/api/webhooks/email"

type WebhookMetrics struct {
	Received   int64
	Processed  int64
	Duplicates int64
	Ignored    int64
	Errors     int64
}

// WebhookHandler accepts pushed message metadata. Any authenticated,
// parseable delivery is acknowledged with 200 so the sender does not retry.
type WebhookHandler struct {
	service in.WebhookService
	limiter fiber.Handler
	timeout time.Duration
	metrics WebhookMetrics
}

// NewWebhookHandler wires service behind an optional rate limit handler.
func NewWebhookHandler(service in.WebhookService, limiter fiber.Handler) *WebhookHandler {
	return &WebhookHandler{service: service, limiter: limiter}
}

// WithTimeout bounds the processing of one delivery.
func (h *WebhookHandler) WithTimeout(d time.Duration) *WebhookHandler {
	h.timeout = d
	return h
}

func (h *WebhookHandler) Register(app fiber.Router) {
	handlers := []fiber.Handler{}
	if h.limiter != nil {
		handlers = append(handlers, h.limiter)
	}
	app.Post(webhookPath, append(handlers, h.HandleEmail)...)
	app.Get(webhookPath, h.Status)
}

func (h *WebhookHandler) HandleEmail(c *fiber.Ctx) error {
	defer metrics.Since("webhook.email", time.Now())
	atomic.AddInt64(&h.metrics.Received, 1)

	token := bearerToken(c.Get(fiber.HeaderAuthorization))
	// Body is only valid for the lifetime of the handler.
	payload := append([]byte(nil), c.Body()...)

	ctx := c.UserContext()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	outcome, err := h.service.HandleIncomingMessage(ctx, payload, token)
	if err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		return err
	}

	switch outcome.Status {
	case domain.WebhookProcessed:
		atomic.AddInt64(&h.metrics.Processed, 1)
	case domain.WebhookDuplicate:
		atomic.AddInt64(&h.metrics.Duplicates, 1)
	case domain.WebhookIgnored:
		atomic.AddInt64(&h.metrics.Ignored, 1)
	case domain.WebhookErrorLogged:
		atomic.AddInt64(&h.metrics.Errors, 1)
		logger.WithField("reason", outcome.Reason).Warn("webhook accepted with reconcile error")
	}
	return c.JSON(outcome)
}

func (h *WebhookHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "active",
		"endpoint":  webhookPath,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Metrics returns a snapshot of the delivery counters.
func (h *WebhookHandler) Metrics() WebhookMetrics {
	return WebhookMetrics{
		Received:   atomic.LoadInt64(&h.metrics.Received),
		Processed:  atomic.LoadInt64(&h.metrics.Processed),
		Duplicates: atomic.LoadInt64(&h.metrics.Duplicates),
		Ignored:    atomic.LoadInt64(&h.metrics.Ignored),
		Errors:     atomic.LoadInt64(&h.metrics.Errors),
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
