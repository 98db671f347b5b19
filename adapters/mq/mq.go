// Package mq implements AgentOS's AMQP adapter: an mq.publish effect
// adapter for the outbound direction, and a Consumer that turns inbound
// AMQP deliveries into external domain events fed through
// scheduler.World.SubmitEvent. The AMQPConnection/AMQPChannel/AMQPDialer
// trio is a dependency-injection seam over amqp.Connection, narrowed from
// a single flow-process-message publisher to the fixed `mq.publish`
// effect kind plus a schema-tagged inbound consumer.
package mq

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
)

// Kind is the fixed effect kind this adapter's publish side handles.
const Kind = "mq.publish"

// AMQPConnection abstracts an amqp.Connection for dependency injection
// and testing.
type AMQPConnection interface {
	Channel() (AMQPChannel, error)
	Close() error
}

// AMQPChannel abstracts an amqp.Channel for dependency injection.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQPDialer abstracts dialing an AMQP server, so tests can inject a fake
// broker without a real RabbitMQ instance.
type AMQPDialer interface {
	Dial(url string) (AMQPConnection, error)
}

// RealDialer dials a real AMQP broker via streadway/amqp.
type RealDialer struct{}

func (RealDialer) Dial(url string) (AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &realConnection{conn: conn}, nil
}

type realConnection struct{ conn *amqp.Connection }

func (r *realConnection) Channel() (AMQPChannel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}
func (r *realConnection) Close() error { return r.conn.Close() }

// Params is mq.publish's decoded parameter shape.
type Params struct {
	Exchange   string `cbor:"exchange"`
	RoutingKey string `cbor:"routing_key"`
	Body       []byte `cbor:"body"`
}

// Adapter publishes mq.publish intents over one durable AMQP channel.
type Adapter struct {
	conn    AMQPConnection
	channel AMQPChannel
	log     *logrus.Entry
}

// New dials url via dialer and opens one channel for publishing.
func New(dialer AMQPDialer, url string, log *logrus.Entry) (*Adapter, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("adapters/mq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("adapters/mq: open channel: %w", err)
	}
	return &Adapter{conn: conn, channel: ch, log: log.WithField("component", "adapters.mq")}, nil
}

// Close releases the adapter's channel and connection.
func (a *Adapter) Close() error {
	a.channel.Close()
	return a.conn.Close()
}

// Kind implements adapters.Adapter.
func (a *Adapter) Kind() string { return Kind }

// Dispatch implements adapters.Adapter: publish is a local, effectively
// synchronous call against the broker's socket buffer, so mq.publish
// resolves its receipt immediately rather than deferring through
// SubmitReceipt.
func (a *Adapter) Dispatch(intent effects.Intent) effects.Receipt {
	var params Params
	if err := ccbor.Unmarshal(intent.ParamsCBOR, &params); err != nil {
		return errReceipt(intent, "decode mq.publish params: "+err.Error())
	}

	err := a.channel.Publish(params.Exchange, params.RoutingKey, false, false, amqp.Publishing{
		ContentType: "application/cbor",
		Body:        params.Body,
	})
	if err != nil {
		return errReceipt(intent, "mq.publish: "+err.Error())
	}

	return effects.Receipt{IntentHash: intent.IntentHash, AdapterID: "adapters.mq", Status: effects.StatusOk}
}

func errReceipt(intent effects.Intent, msg string) effects.Receipt {
	payload, _ := ccbor.Marshal(map[string]interface{}{"error": msg})
	return effects.Receipt{IntentHash: intent.IntentHash, AdapterID: "adapters.mq", Status: effects.StatusError, PayloadCBOR: payload}
}

// EventSink is the narrow callback a Consumer uses to feed inbound
// deliveries into the kernel as external domain events;
// scheduler.World.SubmitEvent satisfies it.
type EventSink interface {
	SubmitEvent(schema string, payload interface{})
}

// Consumer turns AMQP deliveries from one queue into external domain
// events of a fixed schema, acking each delivery only after the sink has
// accepted it.
type Consumer struct {
	channel  AMQPChannel
	queue    string
	schema   string
	sink     EventSink
	log      *logrus.Entry
}

// NewConsumer declares queue durable and builds a Consumer that tags
// every delivery's decoded body as an external event of schema.
func NewConsumer(conn AMQPConnection, queue, schema string, sink EventSink, log *logrus.Entry) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("adapters/mq: open consumer channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("adapters/mq: declare queue %q: %w", queue, err)
	}
	return &Consumer{
		channel: ch,
		queue:   queue,
		schema:  schema,
		sink:    sink,
		log:     log.WithField("component", "adapters.mq.consumer"),
	}, nil
}

// Run consumes deliveries until ctx is cancelled or the delivery channel
// closes (broker disconnect).
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("adapters/mq: consume %q: %w", c.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("adapters/mq: delivery channel for %q closed", c.queue)
			}
			var payload interface{}
			if err := ccbor.Unmarshal(d.Body, &payload); err != nil {
				c.log.WithError(err).Warn("mq delivery decode failed")
				d.Nack(false, false)
				continue
			}
			c.sink.SubmitEvent(c.schema, payload)
			d.Ack(false)
		}
	}
}

// Close releases the consumer's channel.
func (c *Consumer) Close() error { return c.channel.Close() }
