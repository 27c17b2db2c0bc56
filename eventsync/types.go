package eventsync

import (
	"encoding/json"

	"bitbucket.org/mmdatafocus/erp_backend/workflow"
)

// EventEnvelope is the wire shape process-event producers publish. One
// envelope carries one batch for one process.
type EventEnvelope struct {
	BusinessId string                       `json:"business_id"`
	ProcessId  string                       `json:"process_id"`
	BatchId    string                       `json:"batch_id"`
	Events     []workflow.ProcessEventInput `json:"events"`
}

// PushEnvelope is the Pub/Sub push-delivery wrapper.
type PushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func decodeEnvelope(data []byte) (*EventEnvelope, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}
