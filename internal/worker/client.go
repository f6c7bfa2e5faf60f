package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	nc "github.com/nats-io/nats.go"
)

// Client wraps a NATS connection with the JSON request/reply and
// fire-and-forget publish helpers the endpoint needs, adapted from the
// teacher's generic nats.Client with context plumbed through every
// blocking call instead of a bare timeout.
type Client struct {
	conn   *nc.Conn
	logger *log.Logger
}

// NewClient connects to url with indefinite reconnect, matching the
// teacher's nats.NewClient reconnect policy.
func NewClient(url string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				logger.Printf("[WORKER] nats disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			logger.Printf("[WORKER] nats reconnected to %s", conn.ConnectedUrl())
		}),
		nc.ClosedHandler(func(*nc.Conn) {
			logger.Printf("[WORKER] nats connection closed")
		}),
	}
	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("worker: connect to nats: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// Close drains and closes the underlying connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// PublishJSON marshals v and publishes it to subject, no reply expected.
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("worker: marshal publish to %s: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("worker: publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates an asynchronous subscription delivering the raw
// message bytes and reply subject to handler.
func (c *Client) Subscribe(subject string, handler func(data []byte, reply string)) (*nc.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(msg.Data, msg.Reply)
	})
	if err != nil {
		return nil, fmt.Errorf("worker: subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Reply sends a JSON response to a reply subject obtained from Subscribe's
// handler; a no-op if subject is empty (the original message didn't ask
// for one).
func (c *Client) Reply(subject string, v interface{}) {
	if subject == "" {
		return
	}
	if err := c.PublishJSON(subject, v); err != nil {
		c.logger.Printf("[WORKER] failed to send reply on %s: %v", subject, err)
	}
}

// RequestJSON sends req and decodes the JSON response into resp, honoring
// ctx's deadline instead of a bare timeout argument.
func (c *Client) RequestJSON(ctx context.Context, subject string, req, resp interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("worker: marshal request to %s: %w", subject, err)
	}
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("worker: request to %s: %w", subject, err)
	}
	if resp != nil {
		if err := json.Unmarshal(msg.Data, resp); err != nil {
			return fmt.Errorf("worker: unmarshal response from %s: %w", subject, err)
		}
	}
	return nil
}

// IsConnected reports whether the underlying connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
