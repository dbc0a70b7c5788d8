// Package service holds adapters between the allocation core and outside
// systems.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/parking-lot-allocation/internal/logging"
	"github.com/iliyamo/parking-lot-allocation/internal/parking"
	"github.com/iliyamo/parking-lot-allocation/internal/queue"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ErrNotConnected is returned while another caller is reconnecting; the
// event is dropped rather than queued behind the dial.
var ErrNotConnected = errors.New("rabbitmq: reconnect in progress")

// Publisher sends lot events to RabbitMQ.  The connection is opened on
// first use and reopened after a failed publish.  Dialing happens outside
// the lock and is bounded by the request context and dialTimeout, so an
// unreachable broker delays one placement by at most dialTimeout.  It
// implements parking.EventSink.
type Publisher struct {
	url         string
	queue       string
	dialTimeout time.Duration

	mu      sync.Mutex
	ch      amqpChannel
	closer  io.Closer
	dialing bool
	closed  bool
	open    func(ctx context.Context, url string, timeout time.Duration) (amqpChannel, io.Closer, error)
}

var _ parking.EventSink = (*Publisher)(nil)

func NewPublisher(url string) *Publisher {
	return &Publisher{
		url:         url,
		queue:       queue.LotEventsQueue,
		dialTimeout: queue.DefaultDialTimeout,
		open:        dialChannel,
	}
}

func dialChannel(ctx context.Context, url string, timeout time.Duration) (amqpChannel, io.Closer, error) {
	conn, err := queue.Dial(ctx, url, timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	return ch, conn, nil
}

// Publish sends ev as a persistent JSON message.  Errors are returned to
// the allocator, which logs them without failing the request.
func (p *Publisher) Publish(ctx context.Context, ev parking.Event) error {
	body, err := json.Marshal(queue.NewLotEvent(ev))
	if err != nil {
		return fmt.Errorf("marshal lot event: %w", err)
	}
	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(ev.Type),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		logging.Warn(ctx).Err(err).Msg("rabbitmq: publish failed, dropping connection")
		p.mu.Lock()
		if p.ch == ch {
			_ = p.reset()
		}
		p.mu.Unlock()
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// channel returns the live channel or dials a new one.  Only one caller
// dials at a time; the others get ErrNotConnected immediately.
func (p *Publisher) channel(ctx context.Context) (amqpChannel, error) {
	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return nil, errors.New("rabbitmq: publisher closed")
	case p.ch != nil:
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	case p.dialing:
		p.mu.Unlock()
		return nil, ErrNotConnected
	}
	p.dialing = true
	p.mu.Unlock()

	ch, closer, err := p.open(ctx, p.url, p.dialTimeout)
	if err == nil {
		// Durable so messages survive broker restarts.
		if _, derr := ch.QueueDeclare(p.queue, true, false, false, false, nil); derr != nil {
			_ = closer.Close()
			err = fmt.Errorf("rabbitmq queue declare: %w", derr)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialing = false
	if err != nil {
		return nil, err
	}
	if p.closed {
		_ = closer.Close()
		return nil, errors.New("rabbitmq: publisher closed")
	}
	p.ch, p.closer = ch, closer
	return ch, nil
}

// Close releases the broker connection.  Later publishes fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.reset()
}

func (p *Publisher) reset() error {
	var err error
	if p.closer != nil {
		err = p.closer.Close()
	}
	p.ch, p.closer = nil, nil
	return err
}
