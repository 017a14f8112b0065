package domain

import "time"

// PhoneNumberStatus tracks assignment of a provider-issued number
type PhoneNumberStatus string

const (
	PhoneNumberStatusAvailable PhoneNumberStatus = "available"
	PhoneNumberStatusAssigned  PhoneNumberStatus = "assigned"
	PhoneNumberStatusReleased  PhoneNumberStatus = "released"
)

// PhoneNumber is a telephony-provider number, assigned to at most one business
type PhoneNumber struct {
	ID               string            `json:"id" gorm:"type:uuid;primaryKey"`
	Number           string            `json:"number" gorm:"type:varchar(32);uniqueIndex;not null"`
	Label            string            `json:"label" gorm:"type:varchar(100)"`
	BusinessID       *string           `json:"business_id" gorm:"type:uuid;index"`
	Greeting         string            `json:"greeting" gorm:"type:text"`
	AgentPersonality string            `json:"agent_personality" gorm:"type:text"`
	ProviderSID      string            `json:"provider_sid" gorm:"type:varchar(64)"`
	Status           PhoneNumberStatus `json:"status" gorm:"type:varchar(16);default:available;index"`
	CreatedAt        time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for PhoneNumber
func (PhoneNumber) TableName() string {
	return "phone_numbers"
}
