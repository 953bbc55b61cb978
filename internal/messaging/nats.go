// Package messaging provides the NATS client used for the fire-and-forget
// audit pipeline. The gateway publishes chat lines and violation records; the
// auditor binary subscribes and persists them. Publishing never blocks on the
// consumer, so a slow or down audit store cannot stall presence broadcasts or
// message relay.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Shubhamkumarpatel70/videovhat/internal/chatlog"
)

// NATS subjects for the audit pipeline.
const (
	SubjectAuditChat      = "audit.chat"
	SubjectAuditViolation = "audit.violation"
)

// Client wraps the NATS connection with helper methods for the audit
// subjects.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "videovhat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishChatLine publishes a scanned chat line to the audit stream.
// Errors are returned for the caller to log; they are never fatal.
func (c *Client) PublishChatLine(line *chatlog.Line) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("nats marshal chat line: %w", err)
	}
	return c.publish(SubjectAuditChat, data)
}

// PublishViolation publishes a violation record to the audit stream.
func (c *Client) PublishViolation(v *chatlog.Violation) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nats marshal violation: %w", err)
	}
	return c.publish(SubjectAuditViolation, data)
}

// SubscribeChatLines subscribes to the chat audit subject. Used by the
// auditor binary.
func (c *Client) SubscribeChatLines(handler func(line *chatlog.Line)) error {
	return c.subscribe(SubjectAuditChat, func(msg *nats.Msg) {
		var line chatlog.Line
		if err := json.Unmarshal(msg.Data, &line); err != nil {
			log.Printf("[nats] bad chat line payload: %v", err)
			return
		}
		handler(&line)
	})
}

// SubscribeViolations subscribes to the violation audit subject.
func (c *Client) SubscribeViolations(handler func(v *chatlog.Violation)) error {
	return c.subscribe(SubjectAuditViolation, func(msg *nats.Msg) {
		var v chatlog.Violation
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Printf("[nats] bad violation payload: %v", err)
			return
		}
		handler(&v)
	})
}

// publish sends data to a subject without waiting for consumers.
func (c *Client) publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// subscribe registers a handler for a subject and tracks the subscription
// for draining at shutdown.
func (c *Client) subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
