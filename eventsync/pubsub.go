package eventsync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

// PublishEventBatch publishes one envelope to the process-event topic.
func PublishEventBatch(ctx context.Context, envelope *EventEnvelope) error {
	topicName := strings.TrimSpace(os.Getenv("EVENTSYNC_TOPIC"))
	if topicName == "" {
		topicName = "process-events"
	}

	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, topicName)
	if err != nil {
		return err
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PushHandler accepts Pub/Sub push deliveries for environments without
// streaming pull. Always 204: Pub/Sub retries on anything else and malformed
// payloads never become deliverable.
func PushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}
		var push PushEnvelope
		if err := json.Unmarshal(body, &push); err != nil {
			c.Status(204)
			return
		}
		envelope, err := decodeEnvelope(push.Message.Data)
		if err != nil {
			c.Status(204)
			return
		}
		_ = ProcessEnvelope(c.Request.Context(), envelope, push.Message.MessageId)
		c.Status(204)
	}
}
