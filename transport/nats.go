package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"go.viam.com/cloudseg/logging"
	"go.viam.com/cloudseg/ros"
)

// NATSConfig configures the connection made by DialNATS.
type NATSConfig struct {
	URL           string
	Name          string
	Timeout       time.Duration
	ReconnectWait time.Duration
	// MaxReconnects is the number of reconnect attempts, negative for unlimited.
	MaxReconnects int
}

// DefaultNATSConfig returns a config for a long lived node connecting to url.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		Name:          "cloudseg",
		Timeout:       5 * time.Second,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// TopicSubject maps a ROS topic name onto a NATS subject: the leading slash is dropped and the
// remaining slashes become dots, so /camera/depth/points is published on camera.depth.points.
func TopicSubject(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// NATSBus is a Bus over a NATS connection. Payloads are ROS1 serialized PointCloud2 messages.
type NATSBus struct {
	conn   *nats.Conn
	logger logging.Logger

	mu            sync.Mutex
	onDecodeError DecodeErrorHandler
}

// DialNATS connects to the server in cfg and returns a bus over the connection. The bus owns
// the connection and drains it on Close.
func DialNATS(cfg NATSConfig, logger logging.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infow("reconnected to NATS", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				logger.Errorw("NATS subscription error", "subject", sub.Subject, "error", err)
				return
			}
			logger.Errorw("NATS error", "error", err)
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to NATS at %s", cfg.URL)
	}
	logger.Infow("connected to NATS", "url", conn.ConnectedUrl())
	return NewNATSBus(conn, logger), nil
}

// NewNATSBus returns a bus over an existing connection.
func NewNATSBus(conn *nats.Conn, logger logging.Logger) *NATSBus {
	return &NATSBus{conn: conn, logger: logger}
}

// Conn returns the underlying connection.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// OnDecodeError implements DecodeErrorNotifier.
func (b *NATSBus) OnDecodeError(handler DecodeErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDecodeError = handler
}

// Publish implements Publisher.
func (b *NATSBus) Publish(ctx context.Context, topic string, msg *ros.PointCloud2) error {
	data, err := ros.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(TopicSubject(topic), data); err != nil {
		return errors.Wrapf(err, "publishing to %s", topic)
	}
	return nil
}

// Subscribe implements Subscriber.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(TopicSubject(topic), func(m *nats.Msg) {
		b.deliver(topic, m.Data, handler)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "subscribing to %s", topic)
	}
	return sub, nil
}

func (b *NATSBus) deliver(topic string, data []byte, handler Handler) {
	msg, err := ros.Unmarshal(data)
	if err != nil {
		b.mu.Lock()
		onDecodeError := b.onDecodeError
		b.mu.Unlock()
		if onDecodeError != nil {
			onDecodeError(topic, err)
			return
		}
		b.logger.Warnw("dropping undecodable message", "topic", topic, "error", err)
		return
	}
	handler(msg)
}

// Close drains the connection.
func (b *NATSBus) Close() error {
	if err := b.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}
