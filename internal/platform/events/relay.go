package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/storefront/internal/platform/config"
)

const (
	attrNamespace = "namespace"
	attrKind      = "kind"
	attrOrigin    = "origin"
)

// PubSubRelay mirrors bus events across instances through a Pub/Sub topic. Delivery is
// advisory; listeners reload state from storage, so the last write wins.
type PubSubRelay struct {
	bus    *Bus
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger func(context.Context, string, map[string]any)
	acks   sync.WaitGroup
}

// NewPubSubRelay wires a relay between bus, topic and subscription and registers it as the
// bus forwarder.
func NewPubSubRelay(bus *Bus, topic *pubsub.Topic, sub *pubsub.Subscription, logger func(context.Context, string, map[string]any)) (*PubSubRelay, error) {
	if bus == nil {
		return nil, errors.New("pubsub relay: bus is required")
	}
	if topic == nil {
		return nil, errors.New("pubsub relay: topic is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	relay := &PubSubRelay{bus: bus, topic: topic, sub: sub, logger: logger}
	bus.SetForwarder(relay)
	return relay, nil
}

// Forward queues ev for publishing and returns without waiting for the server. Failed
// publishes are logged.
func (r *PubSubRelay) Forward(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	result := r.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			attrNamespace: ev.Namespace,
			attrKind:      string(ev.Kind),
			attrOrigin:    ev.Origin,
		},
	})
	r.acks.Add(1)
	go func(ctx context.Context) {
		defer r.acks.Done()
		if _, err := result.Get(ctx); err != nil {
			r.logger(ctx, "events.relay_publish_failed", map[string]any{
				"namespace": ev.Namespace,
				"kind":      string(ev.Kind),
				"error":     err.Error(),
			})
		}
	}(context.WithoutCancel(ctx))
	return nil
}

// Run receives events until ctx is cancelled, delivering those from other origins to the
// local bus. Undecodable messages are acknowledged and dropped.
func (r *PubSubRelay) Run(ctx context.Context) error {
	if r.sub == nil {
		return errors.New("pubsub relay: subscription is required")
	}
	err := r.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()
		if msg.Attributes[attrOrigin] == r.bus.Origin() {
			return
		}
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.Namespace == "" {
			r.logger(ctx, "events.relay_malformed", map[string]any{"messageId": msg.ID})
			return
		}
		if ev.Origin == r.bus.Origin() {
			return
		}
		r.bus.Deliver(ctx, ev)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub relay: receive: %w", err)
	}
	return nil
}

// Stop detaches the relay from the bus, flushes pending publishes and waits for their
// outcome.
func (r *PubSubRelay) Stop() {
	r.bus.SetForwarder(nil)
	r.topic.Stop()
	r.acks.Wait()
}

// NewPubSubClient connects to Pub/Sub, honouring the emulator host when configured.
func NewPubSubClient(ctx context.Context, cfg config.EventsConfig, opts ...option.ClientOption) (*pubsub.Client, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("pubsub relay: project id is required")
	}
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub relay: new client: %w", err)
	}
	return client, nil
}

// EnsureTopology returns the configured topic and subscription, creating them when absent.
func EnsureTopology(ctx context.Context, client *pubsub.Client, topicID, subscriptionID string) (*pubsub.Topic, *pubsub.Subscription, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub relay: check topic: %w", err)
	}
	if !exists {
		if topic, err = client.CreateTopic(ctx, topicID); err != nil {
			return nil, nil, fmt.Errorf("pubsub relay: create topic: %w", err)
		}
	}
	if subscriptionID == "" {
		return topic, nil, nil
	}
	sub := client.Subscription(subscriptionID)
	exists, err = sub.Exists(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub relay: check subscription: %w", err)
	}
	if !exists {
		sub, err = client.CreateSubscription(ctx, subscriptionID, pubsub.SubscriptionConfig{Topic: topic})
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub relay: create subscription: %w", err)
		}
	}
	return topic, sub, nil
}
