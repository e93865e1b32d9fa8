package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AuditAction is the kind of change an audit entry describes
type AuditAction string

const (
	AuditActionCreate AuditAction = "CREATE"
	AuditActionUpdate AuditAction = "UPDATE"
	AuditActionDelete AuditAction = "DELETE"
)

// JSONB is a raw JSON document stored in a jsonb column
type JSONB json.RawMessage

// Value implements driver.Valuer. The document is sent as text so it works
// with the simple query protocol.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return nil
}

// MarshalJSON keeps the stored document as-is in API responses
func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// ToJSONB marshals v into a JSONB document; nil stays empty
func ToJSONB(v interface{}) (JSONB, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONB(b), nil
}

// AuditLog records a change made through the API
type AuditLog struct {
	ID          string      `json:"id" gorm:"primaryKey;type:uuid"`
	CompanyID   string      `json:"company_id" gorm:"type:uuid;index:idx_audit_logs_company,priority:1"`
	EntityType  string      `json:"entity_type" gorm:"type:varchar(100);not null"`
	EntityID    string      `json:"entity_id" gorm:"type:varchar(100);not null;index"`
	Action      AuditAction `json:"action" gorm:"type:varchar(20);not null"`
	PerformedBy string      `json:"performed_by" gorm:"type:uuid"`
	OldData     JSONB       `json:"old_data,omitempty" gorm:"type:jsonb"`
	NewData     JSONB       `json:"new_data,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time   `json:"created_at" gorm:"index:idx_audit_logs_company,priority:2"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	newID(&a.ID)
	return nil
}
