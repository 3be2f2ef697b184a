package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/yofarm-hub/ussd/config"
)

const (
	defaultMaxDeliveries = 5
	defaultRetryDelay    = 30 * time.Second
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
	// Attempt counts deliveries of this message, starting at 1.
	Attempt int
}

// Handler processes a message. A returned error schedules a redelivery
// until the retry policy is exhausted, after which the message is moved to
// the dead-letter destination of the channel.
type Handler func(ctx context.Context, msg Message) error

// RetryPolicy bounds redelivery of messages whose handler failed.
type RetryPolicy struct {
	MaxDeliveries int
	Delay         time.Duration
}

// RetryPolicyFrom applies defaults to the configured policy.
func RetryPolicyFrom(cfg config.MQConfig) RetryPolicy {
	p := RetryPolicy{MaxDeliveries: cfg.MaxDeliveries, Delay: cfg.RetryDelay}
	if p.MaxDeliveries <= 0 {
		p.MaxDeliveries = defaultMaxDeliveries
	}
	if p.Delay <= 0 {
		p.Delay = defaultRetryDelay
	}
	return p
}

// Exhausted reports whether a failed delivery numbered attempt is the last.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxDeliveries
}

// DeadLetterName is the dead-letter queue or topic of channel.
func DeadLetterName(channel string) string {
	return channel + ".dead"
}

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ wraps a backend with a stable API.
type MQ struct {
	backend Backend
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Open connects to the backend named in cfg. It returns nil when no backend
// is configured.
func Open(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	var (
		backend Backend
		err     error
	)
	policy := RetryPolicyFrom(cfg)
	switch cfg.Backend {
	case "":
		return nil, nil
	case config.MQBackendRabbitMQ:
		backend, err = NewRabbitMQClient(cfg.RabbitMQ, policy)
	case config.MQBackendPubSub:
		backend, err = NewPubSubClient(ctx, cfg.PubSub, policy)
	default:
		return nil, fmt.Errorf("unsupported mq backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Backend, err)
	}
	return New(backend), nil
}

// Publish sends a message to the named channel.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe consumes messages from the named channel.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return m.backend.Subscribe(ctx, channel, handler)
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
