package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
)

// ProcessEvent is one observed activity execution. (InstanceId,
// EventTimestamp, Sequence) totally orders events within a case; Sequence is
// the insertion counter that breaks timestamp ties. The uniq_event index
// makes re-ingesting the same event a duplicate-key no-op.
type ProcessEvent struct {
	ID             string           `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId     string           `gorm:"size:64;index;not null" json:"business_id"`
	ProcessId      string           `gorm:"type:char(36);not null;index" json:"process_id"`
	InstanceId     string           `gorm:"type:char(36);not null;index:uniq_event,unique;index:idx_event_order" json:"instance_id"`
	ActivityName   string           `gorm:"size:255;not null;index:uniq_event,unique" json:"activity_name"`
	EventTimestamp time.Time        `gorm:"type:datetime(3);not null;index:uniq_event,unique;index:idx_event_order" json:"event_timestamp"`
	EventType      ProcessEventType `gorm:"size:20;not null;index:uniq_event,unique" json:"event_type"`
	Sequence       int              `gorm:"not null;index:idx_event_order" json:"sequence"`
	Resource       string           `gorm:"size:255" json:"resource"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// EventsForInstance returns one case's events in canonical order: timestamp
// ascending, insertion order breaking ties.
func EventsForInstance(ctx context.Context, businessId string, instanceId string) ([]ProcessEvent, error) {
	var events []ProcessEvent
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND instance_id = ?", businessId, instanceId).
		Order("event_timestamp, sequence").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ActivitySequence projects the ordered activity names of a case.
func ActivitySequence(events []ProcessEvent) []string {
	seq := make([]string, 0, len(events))
	for _, e := range events {
		seq = append(seq, e.ActivityName)
	}
	return seq
}
