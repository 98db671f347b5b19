package mq_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcomputer-ai/agentos/adapters/mq"
	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
)

// fakeChannel is an in-memory double for mq.AMQPChannel, mocking the
// real amqp.Channel.
type fakeChannel struct {
	published   []amqp.Publishing
	publishErr  error
	deliveries  chan amqp.Delivery
	closed      bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type fakeConnection struct {
	channel *fakeChannel
}

func (f *fakeConnection) Channel() (mq.AMQPChannel, error) { return f.channel, nil }
func (f *fakeConnection) Close() error                     { return nil }

type fakeDialer struct {
	conn *fakeConnection
}

func (f *fakeDialer) Dial(url string) (mq.AMQPConnection, error) { return f.conn, nil }

type fakeSink struct {
	events chan struct {
		schema  string
		payload interface{}
	}
}

func newFakeSink() *fakeSink {
	return &fakeSink{events: make(chan struct {
		schema  string
		payload interface{}
	}, 8)}
}

func (f *fakeSink) SubmitEvent(schema string, payload interface{}) {
	f.events <- struct {
		schema  string
		payload interface{}
	}{schema, payload}
}

func TestAdapter_Dispatch_PublishesToChannel(t *testing.T) {
	ch := newFakeChannel()
	dialer := &fakeDialer{conn: &fakeConnection{channel: ch}}
	a, err := mq.New(dialer, "amqp://ignored", logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	raw, err := ccbor.Marshal(mq.Params{Exchange: "", RoutingKey: "work", Body: []byte("hi")})
	require.NoError(t, err)
	intent := effects.Intent{Kind: mq.Kind, ParamsCBOR: raw, IntentHash: "h1"}

	receipt := a.Dispatch(intent)
	assert.Equal(t, effects.StatusOk, receipt.Status)
	require.Len(t, ch.published, 1)
	assert.Equal(t, []byte("hi"), ch.published[0].Body)
}

func TestAdapter_Dispatch_PublishErrorBecomesErrorReceipt(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = assert.AnError
	dialer := &fakeDialer{conn: &fakeConnection{channel: ch}}
	a, err := mq.New(dialer, "amqp://ignored", logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	raw, _ := ccbor.Marshal(mq.Params{RoutingKey: "work", Body: []byte("hi")})
	receipt := a.Dispatch(effects.Intent{Kind: mq.Kind, ParamsCBOR: raw, IntentHash: "h2"})
	assert.Equal(t, effects.StatusError, receipt.Status)
}

func TestConsumer_Run_FeedsDeliveriesAsExternalEvents(t *testing.T) {
	ch := newFakeChannel()
	conn := &fakeConnection{channel: ch}
	sink := newFakeSink()

	c, err := mq.NewConsumer(conn, "inbound", "ext/Delivered@1", sink, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	body, err := ccbor.Marshal(map[string]interface{}{"order_id": "o1"})
	require.NoError(t, err)
	ch.deliveries <- amqp.Delivery{Body: body}

	select {
	case ev := <-sink.events:
		assert.Equal(t, "ext/Delivered@1", ev.schema)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered event")
	}
}
