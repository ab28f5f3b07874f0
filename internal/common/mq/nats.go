package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig defines configuration for the NATS producer.
type NATSConfig struct {
	URL           string        `yaml:"url" toml:"url"`
	Name          string        `yaml:"name" toml:"name"`
	MaxReconnects int           `yaml:"max_reconnects" toml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" toml:"reconnect_wait"`
}

// NATSProducer implements Producer on a core NATS connection.
type NATSProducer struct {
	conn *nats.Conn
}

// NewNATSProducer connects to the NATS server.
func NewNATSProducer(cfg NATSConfig) (*NATSProducer, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSProducer{conn: conn}, nil
}

// Publish sends the message body on the subject with headers attached.
func (n *NATSProducer) Publish(ctx context.Context, subject string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if subject == "" {
		return errors.New("subject is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.conn.PublishMsg(toNATSMessage(subject, message))
}

// Ping round-trips to the server.
func (n *NATSProducer) Ping(ctx context.Context) error {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return n.conn.FlushTimeout(timeout)
}

// Close drains buffered messages and closes the connection.
func (n *NATSProducer) Close() error {
	return n.conn.Drain()
}

func toNATSMessage(subject string, message *Message) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = message.Body
	for k, v := range message.Headers {
		msg.Header.Set(k, v)
	}
	if message.ID != "" {
		msg.Header.Set(headerID, message.ID)
	}
	if !message.Timestamp.IsZero() {
		msg.Header.Set(headerTimestamp, message.Timestamp.Format(time.RFC3339Nano))
	}
	return msg
}
