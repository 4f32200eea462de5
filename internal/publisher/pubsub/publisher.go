// Package pubsub implements a Google Cloud Pub/Sub publisher for
// accepted-item events.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Config controls the Pub/Sub connection.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Publisher wraps a Pub/Sub client. Topic handles are cached; the
// client batches and retries sends in the background.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New connects to Pub/Sub and verifies the configured topic exists.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
	if cfg.Topic != "" {
		topic := client.Topic(cfg.Topic)
		exists, err := topic.Exists(ctx)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.Topic, err)
		}
		if !exists {
			_ = client.Close()
			return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.Topic, cfg.ProjectID)
		}
		p.topics[cfg.Topic] = topic
	}
	return p, nil
}

// NewWithClient wraps an existing client, primarily for tests against
// the pstest fake.
func NewWithClient(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Publish marshals the payload to JSON, publishes it, and waits for
// the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.client.Topic(name)
	p.topics[name] = t
	return t
}

// Close flushes pending sends and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
