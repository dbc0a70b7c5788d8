package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/parking-lot-allocation/internal/logging"
	"github.com/iliyamo/parking-lot-allocation/internal/parking"
)

// NotificationConsumer reads lot events and appends owner notifications
// to a log file, one line per event.
type NotificationConsumer struct {
	url         string
	logPath     string
	dialTimeout time.Duration
	mu          sync.Mutex
}

func NewNotificationConsumer(url, logPath string) *NotificationConsumer {
	if logPath == "" {
		logPath = filepath.Join("logs", "parking.log")
	}
	return &NotificationConsumer{url: url, logPath: logPath, dialTimeout: 5 * time.Second}
}

// Run connects to the broker and consumes until ctx is cancelled.  Dial
// and consume failures are retried with exponential backoff between 1s
// and 30s; the backoff restarts after every successful connect.
func (c *NotificationConsumer) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		conn, err := Dial(ctx, c.url, c.dialTimeout)
		if err != nil {
			return struct{}{}, fmt.Errorf("dial: %w", err)
		}
		defer func() { _ = conn.Close() }()
		bo.Reset()

		err = c.consume(ctx, conn)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Warn(ctx).Err(err).Dur("retry_in", next).Msg("notification-consumer: broker unavailable")
		}),
	)
	return err
}

func (c *NotificationConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logging.Warn(ctx).Err(err).Msg("notification-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(LotEventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, LotEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.HandleMessage(d.Body); err != nil {
			logging.Error(ctx).Err(err).Msg("notification-consumer: handle message failed")
			_ = d.Nack(false, false) // do not requeue poison messages
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// HandleMessage decodes one LotEvent and appends its notification line.
// Events other than LOT_FULL and LOT_AVAILABLE are acknowledged without
// writing anything.
func (c *NotificationConsumer) HandleMessage(body []byte) error {
	var ev LotEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.LotID == "" {
		return errors.New("event without lot_id")
	}

	var line string
	switch parking.EventType(ev.Type) {
	case parking.EventLotFull:
		line = fmt.Sprintf("[%s] Lot %s is FULL | last_vehicle=%s\n", ev.OccurredAt, ev.LotID, ev.VehicleID)
	case parking.EventLotAvailable:
		line = fmt.Sprintf("[%s] Lot %s has space available again | released_vehicle=%s\n", ev.OccurredAt, ev.LotID, ev.VehicleID)
	case parking.EventParked, parking.EventUnparked:
		return nil
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
