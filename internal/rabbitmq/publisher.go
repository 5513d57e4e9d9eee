package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/metrics"
	"github.com/Checker-Finance/marketplace/pkg/eventbus"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

const (
	// RoutingOfferCreated is the routing key for new offers
	RoutingOfferCreated = "marketplace.offers.created"
	// RoutingOfferCancelled is the routing key for cancelled offers
	RoutingOfferCancelled = "marketplace.offers.cancelled"
	// RoutingOfferSettled is the routing key for accepted offers
	RoutingOfferSettled = "marketplace.offers.settled"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher routes offer lifecycle events to RabbitMQ queues.
type Publisher struct {
	conn     *amqp.Connection
	channel  Channel
	eventBus *eventbus.EventBus
	logger   *zap.Logger
}

// NewPublisher dials RabbitMQ and subscribes to the offer events on the bus.
func NewPublisher(url string, eventBus *eventbus.EventBus, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p := NewWithChannel(channel, eventBus, logger)
	p.conn = conn
	return p, nil
}

// NewWithChannel builds a publisher over an already open channel.
func NewWithChannel(channel Channel, eventBus *eventbus.EventBus, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		channel:  channel,
		eventBus: eventBus,
		logger:   logger,
	}
	p.subscribeToEvents()
	return p
}

func (p *Publisher) subscribeToEvents() {
	p.eventBus.Subscribe(model.EventOfferCreated, func(r *model.Receipt, ev model.Event) {
		p.publish(r, ev, RoutingOfferCreated, 0)
	})
	p.eventBus.Subscribe(model.EventOfferCancelled, func(r *model.Receipt, ev model.Event) {
		p.publish(r, ev, RoutingOfferCancelled, 0)
	})
	p.eventBus.Subscribe(model.EventOfferAccepted, func(r *model.Receipt, ev model.Event) {
		// settlements jump the queue
		p.publish(r, ev, RoutingOfferSettled, 10)
	})
}

func (p *Publisher) publish(r *model.Receipt, ev model.Event, key string, priority uint8) {
	body, err := json.Marshal(ev)
	if err != nil {
		metrics.IncError("rabbitmq", "marshal_failed")
		p.logger.Error("rabbitmq.marshal_failed", zap.String("event", ev.EventName()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		"",    // exchange
		key,   // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: r.ID.String(),
			MessageId:     fmt.Sprintf("%s/%d", r.ID, r.Sequence),
			Timestamp:     r.BlockTime,
			Type:          model.EventType(ev.EventName()),
			Priority:      priority,
			Body:          body,
		},
	)
	if err != nil {
		metrics.IncError("rabbitmq", "publish_failed")
		p.logger.Error("rabbitmq.publish_failed",
			zap.String("routing_key", key),
			zap.String("receipt", r.ID.String()),
			zap.Error(err))
		return
	}

	p.logger.Debug("rabbitmq.published",
		zap.String("routing_key", key),
		zap.String("receipt", r.ID.String()))
}

// Close closes the publisher
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
