// Package transport moves PointCloud2 messages between cloudseg and the rest of the system.
package transport

import (
	"context"

	"go.viam.com/cloudseg/ros"
)

// A Handler is called with every message received on a subscribed topic. Handlers run on the
// transport's delivery goroutine and should return quickly.
type Handler func(msg *ros.PointCloud2)

// A DecodeErrorHandler is called when a payload received on topic cannot be decoded.
type DecodeErrorHandler func(topic string, err error)

// A Publisher sends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *ros.PointCloud2) error
}

// A Subscriber delivers the messages of a topic to a handler.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
}

// A Subscription stops delivery when unsubscribed.
type Subscription interface {
	Unsubscribe() error
}

// A DecodeErrorNotifier reports payloads it could not decode instead of silently dropping them.
type DecodeErrorNotifier interface {
	OnDecodeError(handler DecodeErrorHandler)
}

// A Bus can both publish and subscribe.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
