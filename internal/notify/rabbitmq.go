package notify

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
)

const (
	ExchangeEvents = "downloads.events"
	QueueEvents    = "downloads.events.queue"
	RoutingAll     = "#"
)

// amqpChannel is the part of *amqp.Channel the sink uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events to a topic exchange, routed by event type.
type AMQPSink struct {
	conn      *amqp.Connection
	channel   amqpChannel
	publishMu sync.Mutex
}

// DialAMQP connects to url and declares the event topology.
func DialAMQP(url string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPSink{conn: conn, channel: ch}, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		ExchangeEvents,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(
		QueueEvents,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}
	return ch.QueueBind(
		QueueEvents,
		RoutingAll,
		ExchangeEvents,
		false,
		nil,
	)
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Notify(ctx context.Context, evt domain.Event) error {
	body, err := encode(evt)
	if err != nil {
		return err
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	return s.channel.PublishWithContext(
		ctx,
		ExchangeEvents,
		string(evt.EventType()),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Type:         string(evt.EventType()),
		},
	)
}

func (s *AMQPSink) Close() error {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
