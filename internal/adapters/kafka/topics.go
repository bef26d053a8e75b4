package kafka

// Topic definitions for Kafka event streaming
const (
	// Model lifecycle events
	TopicModelRegistered = "models.registered"
	TopicModelPromoted   = "models.promoted"
	TopicModelDeleted    = "models.deleted"

	// Prediction events
	TopicBackfillCompleted = "predictions.backfill_completed"
)
