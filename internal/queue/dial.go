package queue

import (
	"context"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultDialTimeout bounds the TCP connect plus the AMQP handshake.
const DefaultDialTimeout = 2 * time.Second

// Dial opens a broker connection that gives up at the earlier of ctx's
// deadline and timeout.  The deadline covers the handshake as well, so a
// peer that accepts but never speaks AMQP cannot hold the caller.
func Dial(ctx context.Context, url string, timeout time.Duration) (*amqp.Connection, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Deadline: deadline}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// amqp clears the deadline once the connection is open.
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}
