package models

import (
	"time"

	"github.com/gempos/jewels_backend/config"
)

// Audit publish statuses for AuditEventRecord.PublishStatus.
// Keep these as strings (DB values) for backwards compatibility.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

type AuditAction string

const (
	AuditActionCreate       AuditAction = "CREATE"
	AuditActionUpdate       AuditAction = "UPDATE"
	AuditActionDelete       AuditAction = "DELETE"
	AuditActionCancel       AuditAction = "CANCEL"
	AuditActionReturn       AuditAction = "RETURN"
	AuditActionPayment      AuditAction = "PAYMENT"
	AuditActionStatusChange AuditAction = "STATUS_CHANGE"
)

// AuditEventRecord is the transactional outbox row for audit events.
// Rows are written inside the same DB transaction as the business mutation;
// the dispatcher publishes them to Pub/Sub after commit. A failed publish
// never rolls back the sale.
type AuditEventRecord struct {
	ID             int           `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	OrganizationId string        `gorm:"size:64;not null;index" json:"organization_id"`
	ShopId         int           `gorm:"index;not null" json:"shop_id"`
	OccurredAt     time.Time     `gorm:"index;not null" json:"occurred_at"`
	ReferenceId    int           `json:"reference_id"`
	ReferenceType  ReferenceType `gorm:"type:enum('Sale','Purchase')" json:"reference_type"`
	Action         AuditAction   `gorm:"type:enum('CREATE','UPDATE','DELETE','CANCEL','RETURN','PAYMENT','STATUS_CHANGE')" json:"action"`
	ActorId        int           `json:"actor_id"`
	ActorName      string        `gorm:"size:100" json:"actor_name"`
	OldObj         []byte        `gorm:"type:blob" json:"old_obj"`
	NewObj         []byte        `gorm:"type:blob" json:"new_obj"`
	// Publish metadata (publishing happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ConvertToAuditMessage maps an outbox row to the wire message. Deletes carry
// the old object as payload since there is no new one.
func ConvertToAuditMessage(record AuditEventRecord) config.AuditEventMessage {
	payload := record.NewObj
	if len(payload) == 0 {
		payload = record.OldObj
	}
	return config.AuditEventMessage{
		ID:             record.ID,
		OrganizationId: record.OrganizationId,
		ShopId:         record.ShopId,
		OccurredAt:     record.OccurredAt,
		ReferenceId:    record.ReferenceId,
		ReferenceType:  string(record.ReferenceType),
		Action:         string(record.Action),
		ActorId:        record.ActorId,
		ActorName:      record.ActorName,
		Payload:        payload,
		CorrelationId:  record.CorrelationId,
	}
}
