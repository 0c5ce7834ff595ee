package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/mitrakirim/api/internal/platform/textutil"
	"github.com/mitrakirim/api/internal/services"
)

// PubSubOrderPublisher pushes order notifications to a Pub/Sub topic consumed by
// downstream notification and reporting workers.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderPublisher constructs a Pub/Sub backed order notification publisher.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderNotification enqueues the notification on the configured topic.
// Routing fields ride along as message attributes so subscribers can filter
// without decoding the body.
func (p *PubSubOrderPublisher) PublishOrderNotification(ctx context.Context, notification services.OrderNotification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal order notification: %w", err)
	}

	attrs := textutil.NormalizeStringMap(map[string]string{
		"type":        notification.Type,
		"orderId":     notification.OrderID,
		"orderNumber": notification.OrderNumber,
		"status":      string(notification.CurrentStatus),
		"actorType":   string(notification.ActorType),
	})

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order notification: %w", err)
	}
	return nil
}

var _ services.OrderNotificationPublisher = (*PubSubOrderPublisher)(nil)
