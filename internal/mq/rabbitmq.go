package mq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/yofarm-hub/ussd/config"
)

const attemptHeader = "x-delivery-attempt"

// RabbitMQClient publishes notifications to a work queue and consumes them
// with delayed retries. Each channel owns three queues:
//
//	<channel>        work queue, dead-letters into <channel>.dlx
//	<channel>.retry  holds failed deliveries for the retry delay, then
//	                 dead-letters them back onto the work queue
//	<channel>.dead   bound to <channel>.dlx, kept for operators
type RabbitMQClient struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	durable    bool
	autoDelete bool
	retry      RetryPolicy

	mu       sync.Mutex
	declared map[string]bool
}

// NewRabbitMQClient constructs a RabbitMQ client from config.
func NewRabbitMQClient(cfg config.RabbitMQConfig, policy RetryPolicy) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}

	return &RabbitMQClient{
		conn:       conn,
		channel:    ch,
		durable:    cfg.QueueDurable,
		autoDelete: cfg.QueueAutoDelete,
		retry:      policy,
		declared:   map[string]bool{},
	}, nil
}

// Publish sends a notification to the work queue of channel.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	topo, err := r.ensureTopology(channel)
	if err != nil {
		return "", err
	}

	headers := amqp.Table{}
	for key, value := range attrs {
		headers[key] = value
	}
	headers[attemptHeader] = int32(1)

	messageID := uuid.NewString()
	err = r.channel.PublishWithContext(ctx, "", topo.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: r.deliveryMode(),
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         data,
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// Subscribe consumes the work queue of channel. A failed delivery is parked
// on the retry queue until the policy is exhausted, then rejected into the
// dead-letter queue.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	topo, err := r.ensureTopology(channel)
	if err != nil {
		return err
	}

	consumerTag := fmt.Sprintf("reconciler-%s", uuid.NewString())
	deliveries, err := r.channel.Consume(topo.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.channel.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			attempt := deliveryAttempt(delivery.Headers)
			message := Message{
				ID:         delivery.MessageId,
				Data:       delivery.Body,
				Attributes: headersToAttributes(delivery.Headers),
				Attempt:    attempt,
			}
			if err := handler(ctx, message); err != nil {
				r.fail(ctx, topo, delivery, attempt)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

func (r *RabbitMQClient) fail(ctx context.Context, topo rabbitTopology, delivery amqp.Delivery, attempt int) {
	if r.retry.Exhausted(attempt) {
		_ = delivery.Nack(false, false)
		return
	}

	headers := amqp.Table{}
	for key, value := range delivery.Headers {
		headers[key] = value
	}
	headers[attemptHeader] = int32(attempt + 1)

	err := r.channel.PublishWithContext(ctx, "", topo.retryQueue, false, false, amqp.Publishing{
		ContentType:  delivery.ContentType,
		DeliveryMode: r.deliveryMode(),
		MessageId:    delivery.MessageId,
		Timestamp:    delivery.Timestamp,
		Headers:      headers,
		Body:         delivery.Body,
	})
	if err != nil {
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

// Close closes the underlying channel and connection.
func (r *RabbitMQClient) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *RabbitMQClient) deliveryMode() uint8 {
	if r.durable {
		return amqp.Persistent
	}
	return amqp.Transient
}

func (r *RabbitMQClient) ensureTopology(channel string) (rabbitTopology, error) {
	if strings.TrimSpace(channel) == "" {
		return rabbitTopology{}, errors.New("rabbitmq channel is required")
	}
	topo := newRabbitTopology(channel)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.declared[channel] {
		return topo, nil
	}

	if err := r.channel.ExchangeDeclare(topo.deadExchange, amqp.ExchangeDirect, r.durable, r.autoDelete, false, false, nil); err != nil {
		return rabbitTopology{}, fmt.Errorf("declare %s: %w", topo.deadExchange, err)
	}
	queues := []struct {
		name string
		args amqp.Table
	}{
		{topo.deadQueue, nil},
		{topo.retryQueue, topo.retryArgs(r.retry.Delay)},
		{topo.queue, topo.queueArgs()},
	}
	for _, q := range queues {
		if _, err := r.channel.QueueDeclare(q.name, r.durable, r.autoDelete, false, false, q.args); err != nil {
			return rabbitTopology{}, fmt.Errorf("declare %s: %w", q.name, err)
		}
	}
	if err := r.channel.QueueBind(topo.deadQueue, topo.deadQueue, topo.deadExchange, false, nil); err != nil {
		return rabbitTopology{}, fmt.Errorf("bind %s: %w", topo.deadQueue, err)
	}

	r.declared[channel] = true
	return topo, nil
}

type rabbitTopology struct {
	queue        string
	retryQueue   string
	deadQueue    string
	deadExchange string
}

func newRabbitTopology(channel string) rabbitTopology {
	return rabbitTopology{
		queue:        channel,
		retryQueue:   channel + ".retry",
		deadQueue:    DeadLetterName(channel),
		deadExchange: channel + ".dlx",
	}
}

// queueArgs routes rejected work-queue messages to the dead-letter queue.
func (t rabbitTopology) queueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    t.deadExchange,
		"x-dead-letter-routing-key": t.deadQueue,
	}
}

// retryArgs expires parked messages back onto the work queue after delay.
func (t rabbitTopology) retryArgs(delay time.Duration) amqp.Table {
	return amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.queue,
	}
}

// deliveryAttempt reads the attempt header. Messages published without it
// are on their first delivery.
func deliveryAttempt(headers amqp.Table) int {
	var n int
	switch v := headers[attemptHeader].(type) {
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case int:
		n = v
	case string:
		n, _ = strconv.Atoi(v)
	}
	if n < 1 {
		return 1
	}
	return n
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		if key == attemptHeader {
			continue
		}
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}
