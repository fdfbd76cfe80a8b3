// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
)

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher publishes JSON payloads to one Pub/Sub topic.
type Publisher struct {
	topicID string
	publish publishFunc
	stop    func()
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	if topic == nil {
		return &Publisher{}
	}
	return &Publisher{
		topicID: topic.ID(),
		publish: func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return topic.Publish(ctx, msg).Get(ctx)
		},
		stop: topic.Stop,
	}
}

// Publish marshals the payload to JSON and publishes it. The topic argument
// is recorded as an attribute; the message always goes to the configured topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.publish == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if topic != "" {
		msg.Attributes["topic"] = topic
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.publish(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish message to %s: %w", p.topicID, err)
	}
	return id, nil
}

// Stop flushes pending messages and stops the topic's background goroutines.
func (p *Publisher) Stop() {
	if p.stop != nil {
		p.stop()
	}
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
