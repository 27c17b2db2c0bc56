package eventsync

import (
	"context"
	"os"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/models"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"bitbucket.org/mmdatafocus/erp_backend/workflow"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const ingestHandlerName = "eventsync.ingest"

// RunEventSync subscribes to the process-event topic and feeds batches into
// the analyzer. Idempotency per Pub/Sub message id makes redelivery safe.
func RunEventSync(ctx context.Context) error {
	logger := config.GetLogger()

	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, os.Getenv("EVENTSYNC_TOPIC"))
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, os.Getenv("EVENTSYNC_SUBSCRIPTION"), topic)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		envelope, err := decodeEnvelope(msg.Data)
		if err != nil {
			config.LogError(logger, "consumer.go", "RunEventSync", "unmarshaling event envelope", string(msg.Data), err)
			// Malformed forever; redelivery cannot fix it.
			msg.Ack()
			return
		}
		if err := ProcessEnvelope(ctx, envelope, msg.ID); err != nil {
			logger.WithFields(logrus.Fields{
				"business_id": envelope.BusinessId,
				"process_id":  envelope.ProcessId,
				"message_id":  msg.ID,
			}).Error("event batch processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(logger, "consumer.go", "RunEventSync", "receiving messages", nil, err)
		}
	}()
	return nil
}

// ProcessEnvelope ingests one batch exactly once per message id.
func ProcessEnvelope(ctx context.Context, envelope *EventEnvelope, messageId string) error {
	if envelope.BusinessId == "" || envelope.ProcessId == "" {
		return utils.NewValidationError("InvalidEnvelope", "envelope lacks business or process id")
	}
	if envelope.BatchId != "" {
		messageId = envelope.BatchId
	}
	ctx = utils.SetBusinessIdInContext(ctx, envelope.BusinessId)

	db := config.GetDB()
	var result *workflow.IngestResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err := workflow.BeginIdempotency(tx, envelope.BusinessId, ingestHandlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}

		result, err = workflow.IngestEvents(ctx, envelope.ProcessId, envelope.Events)
		if err != nil {
			_ = workflow.MarkIdempotencyFailed(tx, envelope.BusinessId, ingestHandlerName, messageId, err)
			return err
		}
		return workflow.MarkIdempotencySucceeded(tx, envelope.BusinessId, ingestHandlerName, messageId)
	})
	if err != nil {
		return err
	}
	if result == nil || result.Accepted == 0 {
		return nil
	}

	if err := workflow.RecomputeVariantPercentages(ctx, envelope.ProcessId); err != nil {
		return err
	}

	// Fan the ingest out to webhook subscribers; failure here must not fail
	// the already-committed ingest.
	_, _, err = models.TriggerEvent(ctx, &models.NewWebhookEvent{
		EventType:  "process.events.ingested",
		SourceType: "ProcessDefinition",
		SourceId:   envelope.ProcessId,
		Payload:    result,
	})
	if err != nil {
		config.LogError(config.GetLogger(), "consumer.go", "ProcessEnvelope", "triggering ingest webhook", envelope.ProcessId, err)
	}
	return nil
}
