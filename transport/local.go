package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/cloudseg/ros"
)

// ErrClosed is returned when using a closed bus.
var ErrClosed = errors.New("bus is closed")

// LocalBus is an in-process Bus. Messages still travel in their ROS1 serialization, so a
// subscriber never shares memory with the publisher. Delivery is synchronous: Publish returns
// after every handler of the topic has run.
type LocalBus struct {
	mu            sync.Mutex
	subs          map[string][]*localSubscription
	onDecodeError DecodeErrorHandler
	closed        bool
}

// NewLocalBus returns an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: map[string][]*localSubscription{}}
}

type localSubscription struct {
	bus     *LocalBus
	topic   string
	handler Handler
}

func (s *localSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.topic]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// Subscribe implements Subscriber.
func (b *LocalBus) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &localSubscription{bus: b, topic: topic, handler: handler}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub, nil
}

// SubscriberCount returns the number of subscriptions to topic.
func (b *LocalBus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// OnDecodeError implements DecodeErrorNotifier.
func (b *LocalBus) OnDecodeError(handler DecodeErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDecodeError = handler
}

// Publish implements Publisher.
func (b *LocalBus) Publish(ctx context.Context, topic string, msg *ros.PointCloud2) error {
	data, err := ros.Marshal(msg)
	if err != nil {
		return err
	}
	return b.PublishRaw(ctx, topic, data)
}

// PublishRaw delivers an already serialized payload to the subscribers of topic.
func (b *LocalBus) PublishRaw(ctx context.Context, topic string, data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	subs := append([]*localSubscription(nil), b.subs[topic]...)
	onDecodeError := b.onDecodeError
	b.mu.Unlock()

	if len(subs) == 0 {
		return nil
	}
	for _, sub := range subs {
		msg, err := ros.Unmarshal(data)
		if err != nil {
			if onDecodeError != nil {
				onDecodeError(topic, err)
			}
			continue
		}
		sub.handler(msg)
	}
	return nil
}

// Close implements Bus.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[string][]*localSubscription{}
	return nil
}
