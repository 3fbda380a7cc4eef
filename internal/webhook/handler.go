package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quake/internal/metrics"
	"github.com/Checker-Finance/quake/pkg/model"
	"github.com/Checker-Finance/quake/pkg/quake"
)

// DedupTTL is how long a delivery signature is remembered. Anything older than
// the timestamp tolerance is rejected as stale anyway.
const DedupTTL = 2 * quake.TimestampTolerance

// Deduper remembers which deliveries were already relayed.
type Deduper interface {
	MarkDelivery(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error)
}

// EventPublisher forwards verified deliveries downstream.
type EventPublisher interface {
	PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error
	SubjectFor(eventType string) string
}

// Handler verifies inbound Quake webhooks and relays them to NATS.
type Handler struct {
	logger    *zap.Logger
	verifier  *quake.Verifier
	dedup     Deduper
	publisher EventPublisher
	companyID string
}

// NewHandler creates a Handler. dedup may be nil to disable replay protection.
func NewHandler(logger *zap.Logger, verifier *quake.Verifier, dedup Deduper, pub EventPublisher, companyID string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:    logger,
		verifier:  verifier,
		dedup:     dedup,
		publisher: pub,
		companyID: companyID,
	}
}

// HandleChallenge answers the CRC handshake.
// GET /webhooks/quake?crc_token=...
func (h *Handler) HandleChallenge(c *fiber.Ctx) error {
	token := c.Query("crc_token")
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "crc_token is required"})
	}

	resp, err := h.verifier.ResolveChallenge(token)
	if err != nil {
		h.logger.Error("quake.webhook.challenge_failed", zap.Error(err))
		metrics.IncError("webhook", "no_secret")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook secret not configured"})
	}

	h.logger.Info("quake.webhook.challenge_answered")
	return c.JSON(resp)
}

// HandleEvent verifies and relays a delivery.
// POST /webhooks/quake
func (h *Handler) HandleEvent(c *fiber.Ctx) error {
	// fasthttp reuses the request buffer after the handler returns.
	body := append([]byte(nil), c.Body()...)
	headers := signatureHeaders(c)

	ok, err := h.verifier.ValidateRequest(headers, body)
	if errors.Is(err, quake.ErrMissingWebhookSecret) {
		h.logger.Error("quake.webhook.secret_missing")
		metrics.IncError("webhook", "no_secret")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook secret not configured"})
	}
	if err != nil || !ok {
		h.logger.Warn("quake.webhook.invalid_signature",
			zap.String("ip", c.IP()),
			zap.String("timestamp", headers.Get(quake.HeaderTimestamp)))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
	}

	ctx := c.UserContext()
	signature := headers.Get(quake.HeaderSignature)

	if h.dedup != nil {
		first, err := h.dedup.MarkDelivery(ctx, signature, DedupTTL)
		switch {
		case err != nil:
			// Relay anyway; downstream JetStream dedup still applies per envelope id.
			h.logger.Warn("quake.webhook.dedup_unavailable", zap.Error(err))
			metrics.IncError("webhook", "dedup_unavailable")
		case !first:
			h.logger.Info("quake.webhook.duplicate", zap.String("timestamp", headers.Get(quake.HeaderTimestamp)))
			return c.JSON(fiber.Map{"status": "duplicate"})
		}
	}

	eventType := eventName(body)
	sentAt := time.Now()
	if unix, err := strconv.ParseInt(headers.Get(quake.HeaderTimestamp), 10, 64); err == nil {
		sentAt = time.Unix(unix, 0)
	}

	subject := h.publisher.SubjectFor(eventType)
	env := model.NewWebhookEnvelope(subject, eventType, h.companyID, sentAt, jsonPayload(body))
	if err := h.publisher.PublishEnvelope(ctx, subject, env); err != nil {
		h.logger.Error("quake.webhook.publish_failed",
			zap.String("subject", subject),
			zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "publish failed"})
	}

	h.logger.Info("quake.webhook.relayed",
		zap.String("event", eventType),
		zap.String("subject", subject),
		zap.String("envelope_id", env.ID.String()))

	return c.JSON(fiber.Map{"status": "accepted", "id": env.ID.String()})
}

func signatureHeaders(c *fiber.Ctx) http.Header {
	headers := http.Header{}
	for _, k := range []string{quake.HeaderTimestamp, quake.HeaderSignatureVersion, quake.HeaderSignature} {
		if v := c.Get(k); v != "" {
			headers.Set(k, v)
		}
	}
	return headers
}

// eventName reads the top-level "event" field and makes it safe as a NATS subject token.
func eventName(body []byte) string {
	var probe struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "unknown"
	}
	name := strings.TrimSpace(probe.Event)
	if name == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, name)
}

// jsonPayload returns body as-is when it is JSON, otherwise as a JSON string.
func jsonPayload(body []byte) []byte {
	if json.Valid(body) {
		return body
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
