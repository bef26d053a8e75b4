package events

import (
	"context"
	"time"

	"demeter/internal/adapters/kafka"
	"demeter/pkg/logger"
)

// ModelEvent describes a model lifecycle change
type ModelEvent struct {
	VersionTag string    `json:"version_tag"`
	ModelType  string    `json:"model_type"`
	OccurredAt time.Time `json:"occurred_at"`
}

// BackfillEvent describes a completed backfill run
type BackfillEvent struct {
	JobID      string    `json:"job_id"`
	VersionTag string    `json:"version_tag"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher publishes registry and serving events to Kafka
type Publisher struct {
	producer *kafka.Producer
	log      *logger.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		log:      logger.Get().With("component", "event_publisher"),
	}
}

// PublishModelRegistered publishes a model registered event
func (p *Publisher) PublishModelRegistered(ctx context.Context, event ModelEvent) error {
	return p.publish(ctx, kafka.TopicModelRegistered, event.VersionTag, event)
}

// PublishModelPromoted publishes a production promotion event
func (p *Publisher) PublishModelPromoted(ctx context.Context, event ModelEvent) error {
	return p.publish(ctx, kafka.TopicModelPromoted, event.VersionTag, event)
}

// PublishModelDeleted publishes a model deleted event
func (p *Publisher) PublishModelDeleted(ctx context.Context, event ModelEvent) error {
	return p.publish(ctx, kafka.TopicModelDeleted, event.VersionTag, event)
}

// PublishBackfillCompleted publishes a backfill completion event
func (p *Publisher) PublishBackfillCompleted(ctx context.Context, event BackfillEvent) error {
	return p.publish(ctx, kafka.TopicBackfillCompleted, event.JobID, event)
}

// publish sends the event, logging failures without failing the caller's
// operation: events are advisory, the catalog is the source of truth
func (p *Publisher) publish(ctx context.Context, topic, key string, event interface{}) error {
	if p == nil || p.producer == nil {
		return nil
	}
	if err := p.producer.Publish(ctx, topic, key, event); err != nil {
		p.log.Warnf("Failed to publish %s event: %v", topic, err)
		return err
	}
	return nil
}
