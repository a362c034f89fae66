package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/brainquiz/apiserver/config"
)

// Pub/Sub rejects dead-letter policies below five attempts. Handler failures
// are dropped earlier by the shared retry policy; the dead-letter topic only
// catches messages whose acknowledgement never reached the server.
const deadLetterMaxAttempts = 5

// PubSubClient wraps the Google Cloud Pub/Sub SDK client.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string
	deadLetterSuffix   string
}

// NewPubSubClient constructs a Pub/Sub client from config.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
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

	return &PubSubClient{
		client:             client,
		subscriptionSuffix: withDefault(cfg.SubscriptionSuffix, "-sub"),
		deadLetterSuffix:   withDefault(cfg.DeadLetterSuffix, "-dead"),
	}, nil
}

// Publish sends a message to the named topic. The content type travels as the
// content-type attribute.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: publishAttributes(attrs)})
	return result.Get(ctx)
}

// Subscribe consumes messages from the named channel. A message whose handler
// fails is redelivered until the shared delivery limit is reached and then
// acknowledged, matching the RabbitMQ backend.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return err
	}
	deadLetter, err := p.ensureTopic(ctx, channel+p.deadLetterSuffix)
	if err != nil {
		return fmt.Errorf("dead-letter topic: %w", err)
	}

	sub, err := p.ensureSubscription(ctx, p.subscriptionName(channel), topic, deadLetter)
	if err != nil {
		return err
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := handler(ctx, toMessage(msg)); err != nil && retryable(pubsubAttempt(msg.DeliveryAttempt)) {
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

// ensureSubscription creates the subscription with a dead-letter policy, or
// adds the policy to an existing subscription that lacks one. Delivery
// attempts are only reported on subscriptions with a policy.
func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic, deadLetter *pubsub.Topic) (*pubsub.Subscription, error) {
	policy := &pubsub.DeadLetterPolicy{
		DeadLetterTopic:     deadLetter.String(),
		MaxDeliveryAttempts: deadLetterMaxAttempts,
	}

	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
			Topic:            topic,
			DeadLetterPolicy: policy,
		})
	}

	cfg, err := sub.Config(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.DeadLetterPolicy == nil {
		if _, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{DeadLetterPolicy: policy}); err != nil {
			return nil, fmt.Errorf("set dead-letter policy on %s: %w", name, err)
		}
	}
	return sub, nil
}

func (p *PubSubClient) subscriptionName(channel string) string {
	if p.subscriptionSuffix == "" {
		return channel
	}
	return channel + p.subscriptionSuffix
}

func toMessage(msg *pubsub.Message) Message {
	return Message{
		ID:         msg.ID,
		Data:       msg.Data,
		Attributes: msg.Attributes,
	}
}

// pubsubAttempt returns the 1-based delivery count. Pub/Sub leaves it unset on
// the first delivery to a subscription without a dead-letter policy.
func pubsubAttempt(attempt *int) int {
	if attempt == nil || *attempt < 1 {
		return 1
	}
	return *attempt
}

func publishAttributes(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs)+1)
	for key, value := range attrs {
		out[key] = value
	}
	if out[contentTypeAttr] == "" {
		out[contentTypeAttr] = defaultContentType
	}
	return out
}

func withDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
