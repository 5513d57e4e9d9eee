package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/metrics"
	"github.com/Checker-Finance/marketplace/pkg/eventbus"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// JetStream is the subset of nats.JetStreamContext the publisher needs.
type JetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// Publisher sends committed marketplace events to NATS JetStream as
// canonical envelopes.
type Publisher struct {
	nc       *nats.Conn
	js       JetStream
	prefix   string
	service  string
	contract model.Address
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a Publisher on an open NATS connection. Subjects are built as
// <prefix>.<event type>.v1, e.g. evt.marketplace.offer.accepted.v1.
func New(nc *nats.Conn, prefix, service string, contract model.Address, logger *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	p := NewWithJetStream(js, prefix, service, contract, logger)
	p.nc = nc
	return p, nil
}

// NewWithJetStream creates a Publisher over an existing JetStream handle.
func NewWithJetStream(js JetStream, prefix, service string, contract model.Address, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		js:       js,
		prefix:   prefix,
		service:  service,
		contract: contract,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

// Subject returns the subject an event with the given name is published on.
func (p *Publisher) Subject(eventName string) string {
	return fmt.Sprintf("%s.%s.v1", p.prefix, model.EventType(eventName))
}

// EnsureStream creates the stream capturing every marketplace subject if it
// does not exist yet.
func (p *Publisher) EnsureStream(name string) error {
	_, err := p.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	if _, err := p.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{p.prefix + ".>"},
		Storage:  nats.FileStorage,
	}); err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	p.logger.Info("publisher.stream_created", zap.String("stream", name), zap.String("subjects", p.prefix+".>"))
	return nil
}

// Attach subscribes the publisher to every event on the bus.
func (p *Publisher) Attach(bus *eventbus.EventBus) {
	bus.SubscribeAll(func(r *model.Receipt, ev model.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		_ = p.PublishEvent(ctx, r, ev)
	})
}

// PublishEvent wraps ev in an envelope and publishes it.
func (p *Publisher) PublishEvent(ctx context.Context, r *model.Receipt, ev model.Event) error {
	subject := p.Subject(ev.EventName())
	env, err := model.NewEnvelope(p.contract, r, ev, subject)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		p.logger.Error("publisher.marshal_failed",
			zap.String("event", ev.EventName()),
			zap.Error(err))
		return err
	}
	return p.PublishEnvelope(ctx, subject, env)
}

// PublishEnvelope serializes and publishes a canonical event envelope.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"contract":       []string{env.Contract.String()},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx), nats.MsgId(env.ID.String()))
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.String("correlation_id", env.CorrelationID.String()),
			zap.Error(err))
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", subject),
		zap.String("event_type", env.EventType))
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
