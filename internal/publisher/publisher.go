package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quake/internal/metrics"
	"github.com/Checker-Finance/quake/pkg/model"
)

// JetStream is the subset of nats.JetStreamContext the publisher needs.
type JetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// Publisher wraps a NATS connection and publishes webhook envelopes to JetStream.
type Publisher struct {
	nc      *nats.Conn
	js      JetStream
	subject string
	service string
	logger  *zap.Logger
}

// New creates a Publisher on nc with JetStream enabled.
func New(nc *nats.Conn, subject, service string, logger *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	p := NewWithJetStream(js, subject, service, logger)
	p.nc = nc
	return p, nil
}

// NewWithJetStream builds a Publisher around an existing JetStream handle.
func NewWithJetStream(js JetStream, subject, service string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{js: js, subject: subject, service: service, logger: logger}
}

// EnsureStream creates stream capturing "<subject>.>" if it does not exist yet.
func (p *Publisher) EnsureStream(stream string) error {
	_, err := p.js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %q: %w", stream, err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{p.subject + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("add stream %q: %w", stream, err)
	}
	p.logger.Info("publisher.stream_created", zap.String("stream", stream), zap.String("subject", p.subject+".>"))
	return nil
}

// SubjectFor returns "<base subject>.<eventType>".
func (p *Publisher) SubjectFor(eventType string) string {
	return p.subject + "." + eventType
}

// PublishEnvelope serializes and publishes an event envelope.
// An empty subject publishes to SubjectFor(env.EventType).
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	if subject == "" {
		subject = p.SubjectFor(env.EventType)
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"company_id":     []string{env.CompanyID},
			// JetStream drops a second message with the same id inside its dedup window.
			nats.MsgIdHdr: []string{env.ID.String()},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.String("company_id", env.CompanyID),
			zap.Error(err))
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	p.logger.Info("publisher.publish_success",
		zap.String("subject", subject),
		zap.String("event_type", env.EventType),
		zap.String("company_id", env.CompanyID))

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// HealthCheck reports whether the underlying NATS connection is usable.
func (p *Publisher) HealthCheck() error {
	if p.nc == nil {
		return nil
	}
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected (status %s)", p.nc.Status())
	}
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
