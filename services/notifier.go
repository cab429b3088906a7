package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Scope names a family of cached read models that must be refreshed after an
// order is created.
type Scope string

const (
	ScopeAdminOrders Scope = "admin-orders"
	ScopeDashboard   Scope = "dashboard"
	ScopeUserOrders  Scope = "user-orders"
)

// OrderCreatedScopes are invalidated after every new order.
var OrderCreatedScopes = []Scope{ScopeAdminOrders, ScopeDashboard, ScopeUserOrders}

// Notifier invalidates cached views. Calls are best effort: callers log
// failures and carry on.
type Notifier interface {
	Invalidate(ctx context.Context, scope Scope) error
}

// InvalidationMessage is the payload published on every transport.
type InvalidationMessage struct {
	Scope Scope     `json:"scope"`
	At    time.Time `json:"at"`
}

func encodeInvalidation(scope Scope, at time.Time) ([]byte, error) {
	return json.Marshal(InvalidationMessage{Scope: scope, At: at.UTC()})
}

// LogNotifier only records the invalidation. Used when no cache is deployed.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Invalidate(_ context.Context, scope Scope) error {
	n.logger.Info("Cache invalidated", zap.String("scope", string(scope)))
	return nil
}

// CacheKeyPrefix prefixes the Redis keys holding cached views.
const CacheKeyPrefix = "cache:"

// RedisNotifier drops the cached view for the scope and publishes the scope
// on a channel so other replicas can drop their in-memory copies.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	if channel == "" {
		channel = "cache-invalidation"
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Invalidate(ctx context.Context, scope Scope) error {
	msg, err := encodeInvalidation(scope, time.Now())
	if err != nil {
		return err
	}

	pipe := n.client.TxPipeline()
	pipe.Del(ctx, CacheKeyPrefix+string(scope))
	pipe.Publish(ctx, n.channel, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis invalidate %s: %w", scope, err)
	}
	return nil
}

// TopicPublisher is satisfied by pkg/aws.SNSClient.
type TopicPublisher interface {
	Publish(ctx context.Context, topicArn string, message []byte, attributes map[string]string) error
}

type SNSNotifier struct {
	publisher TopicPublisher
	topicArn  string
}

func NewSNSNotifier(publisher TopicPublisher, topicArn string) *SNSNotifier {
	return &SNSNotifier{publisher: publisher, topicArn: topicArn}
}

func (n *SNSNotifier) Invalidate(ctx context.Context, scope Scope) error {
	msg, err := encodeInvalidation(scope, time.Now())
	if err != nil {
		return err
	}
	return n.publisher.Publish(ctx, n.topicArn, msg, map[string]string{"scope": string(scope)})
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaWriter builds the writer used by KafkaNotifier.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Invalidate keys messages by scope so one scope's messages stay ordered.
func (n *KafkaNotifier) Invalidate(ctx context.Context, scope Scope) error {
	msg, err := encodeInvalidation(scope, time.Now())
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{Key: []byte(scope), Value: msg}); err != nil {
		return fmt.Errorf("kafka invalidate %s: %w", scope, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// MultiNotifier fans out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Invalidate(ctx context.Context, scope Scope) error {
	var errs []error
	for _, n := range m {
		if err := n.Invalidate(ctx, scope); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
