package mq

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/yofarm-hub/ussd/config"
)

const (
	ackDeadline       = 60 * time.Second
	maxRetryBackoff   = 10 * time.Minute
	minDeadDeliveries = 5
	maxDeadDeliveries = 100
)

// PubSubClient publishes notifications to a topic and consumes them through
// a subscription with a dead-letter policy. Pub/Sub redelivers with
// exponential backoff and forwards to <channel>.dead once the delivery
// limit is reached.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string
	retry              RetryPolicy
}

// NewPubSubClient constructs a Pub/Sub client from config.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig, policy RetryPolicy) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = "-sub"
	}

	return &PubSubClient{
		client:             client,
		subscriptionSuffix: suffix,
		retry:              policy,
	}, nil
}

// Publish sends a notification to the topic of channel.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return "", err
	}
	defer topic.Stop()

	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	return result.Get(ctx)
}

// Subscribe consumes notifications until ctx is done. Nacked messages are
// redelivered by Pub/Sub under the subscription's retry policy.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return err
	}
	deadTopic, err := p.ensureTopic(ctx, DeadLetterName(channel))
	if err != nil {
		return err
	}
	// Without a subscription, messages forwarded to the dead-letter topic are dropped.
	if _, err := p.ensureSubscription(ctx, DeadLetterName(channel)+p.subscriptionSuffix, pubsub.SubscriptionConfig{
		Topic:       deadTopic,
		AckDeadline: ackDeadline,
	}); err != nil {
		return err
	}

	cfg := pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: ackDeadline,
	}
	cfg.DeadLetterPolicy, cfg.RetryPolicy = deliveryPolicies(deadTopic.String(), p.retry)

	sub, err := p.ensureSubscription(ctx, p.subscriptionName(channel), cfg)
	if err != nil {
		return err
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		message := Message{
			ID:         msg.ID,
			Data:       msg.Data,
			Attributes: msg.Attributes,
			Attempt:    1,
		}
		if msg.DeliveryAttempt != nil {
			message.Attempt = *msg.DeliveryAttempt
		}
		if err := handler(ctx, message); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close closes the underlying Pub/Sub client.
func (p *PubSubClient) Close() error {
	return p.client.Close()
}

func (p *PubSubClient) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateTopic(ctx, name)
	}
	return topic, nil
}

// ensureSubscription creates the subscription, or brings the delivery
// policies of an existing one in line with cfg.
func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, cfg pubsub.SubscriptionConfig) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateSubscription(ctx, name, cfg)
	}
	if cfg.DeadLetterPolicy == nil {
		return sub, nil
	}

	current, err := sub.Config(ctx)
	if err != nil {
		return nil, err
	}
	if samePolicy(current.DeadLetterPolicy, cfg.DeadLetterPolicy) {
		return sub, nil
	}
	if _, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
		DeadLetterPolicy: cfg.DeadLetterPolicy,
		RetryPolicy:      cfg.RetryPolicy,
	}); err != nil {
		return nil, err
	}
	return sub, nil
}

func (p *PubSubClient) subscriptionName(channel string) string {
	if p.subscriptionSuffix == "" {
		return channel
	}
	return channel + p.subscriptionSuffix
}

// deliveryPolicies maps the retry policy onto Pub/Sub, which only accepts
// between 5 and 100 delivery attempts.
func deliveryPolicies(deadTopic string, policy RetryPolicy) (*pubsub.DeadLetterPolicy, *pubsub.RetryPolicy) {
	attempts := min(max(policy.MaxDeliveries, minDeadDeliveries), maxDeadDeliveries)
	backoff := policy.Delay
	if backoff <= 0 {
		backoff = defaultRetryDelay
	}
	backoff = min(backoff, maxRetryBackoff)
	dead := &pubsub.DeadLetterPolicy{
		DeadLetterTopic:     deadTopic,
		MaxDeliveryAttempts: attempts,
	}
	retry := &pubsub.RetryPolicy{
		MinimumBackoff: backoff,
		MaximumBackoff: maxRetryBackoff,
	}
	return dead, retry
}

func samePolicy(a, b *pubsub.DeadLetterPolicy) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.DeadLetterTopic == b.DeadLetterTopic && a.MaxDeliveryAttempts == b.MaxDeliveryAttempts
}
