package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/config"
	"github.com/toncenter/examples/internal/metrics"
)

// NATSClient NATS client used to publish engine alerts and events
type NATSClient struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
	prefix     string
}

// NewNATSClient CreateNATS client
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = config.Seconds(cfg.Timeout)
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = config.Seconds(cfg.ReconnectWait)
	}
	logrus.Infof("🔌 Connecting to NATS %s (timeout %v)", cfg.URL, connectTimeout)

	conn, err := nats.Connect(cfg.URL,
		nats.Name("withdrawer"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logrus.Warnf("⚠️ NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.Infof("✅ NATS reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	client := &NATSClient{
		conn:       conn,
		streamName: cfg.StreamName,
		prefix:     cfg.SubjectPrefix,
	}

	if cfg.EnableJetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		client.js = js
		if err := client.ensureStream(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return client, nil
}

// ensureStream creates the stream capturing every subject under the prefix
func (c *NATSClient) ensureStream() error {
	if _, err := c.js.StreamInfo(c.streamName); err == nil {
		logrus.Infof("📦 NATS stream %s already exists", c.streamName)
		return nil
	}

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      c.streamName,
		Subjects:  []string{c.prefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create NATS stream %s: %w", c.streamName, err)
	}
	logrus.Infof("✅ NATS stream %s created", c.streamName)
	return nil
}

// Subject returns the full subject for a name under the configured prefix
func (c *NATSClient) Subject(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "." + name
}

// Publish sends data to subject; with JetStream enabled it waits for the stream ack
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if c.js != nil {
		if _, err := c.js.Publish(subject, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", subject, err)
		}
		return nil
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// IsConnected reports the connection state
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains pending messages and closes the connection
func (c *NATSClient) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
	metrics.NATSConnectionStatus.Set(0)
}
