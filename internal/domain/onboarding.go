package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// OnboardingStatus is the lifecycle of one onboarding interview attempt.
// completed and failed are terminal.
type OnboardingStatus string

const (
	OnboardingStatusPending    OnboardingStatus = "pending"
	OnboardingStatusInProgress OnboardingStatus = "in_progress"
	OnboardingStatusCompleted  OnboardingStatus = "completed"
	OnboardingStatusFailed     OnboardingStatus = "failed"
)

// Terminal reports whether the status admits no further transition
func (s OnboardingStatus) Terminal() bool {
	return s == OnboardingStatusCompleted || s == OnboardingStatusFailed
}

// OnboardingQuestion is one scripted interview question
type OnboardingQuestion struct {
	ID        int    `json:"id"`
	Question  string `json:"question"`
	FieldName string `json:"field_name"`
	Required  bool   `json:"required"`
}

// QuestionList is the ordered interview script stored on the record
type QuestionList []OnboardingQuestion

// Value implements driver.Valuer
func (l QuestionList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *QuestionList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := toBytes(value)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// OnboardingCall is one onboarding interview attempt
type OnboardingCall struct {
	ID              string           `json:"id" gorm:"type:uuid;primaryKey"`
	BusinessID      string           `json:"business_id" gorm:"type:uuid;index;not null"`
	ProviderCallSID string           `json:"provider_call_sid" gorm:"column:provider_call_sid;type:varchar(64);index"`
	Status          OnboardingStatus `json:"status" gorm:"type:varchar(16);default:pending"`
	QuestionsAsked  QuestionList     `json:"questions_asked" gorm:"type:jsonb"`
	ExtractedData   JSONB            `json:"extracted_data" gorm:"type:jsonb"`
	CompletedAt     *time.Time       `json:"completed_at"`
	CreatedAt       time.Time        `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for OnboardingCall
func (OnboardingCall) TableName() string {
	return "onboarding_calls"
}
