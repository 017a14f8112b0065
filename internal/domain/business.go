package domain

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"
)

// Tier is a subscription tier with fixed monthly allowances
type Tier string

const (
	TierStarter    Tier = "starter"
	TierGrowth     Tier = "growth"
	TierEnterprise Tier = "enterprise"
)

// TierLimit holds the fixed allowances for one tier
type TierLimit struct {
	Minutes  int64
	Numbers  int
	PriceGBP int
}

var tierLimits = map[Tier]TierLimit{
	TierStarter:    {Minutes: 200, Numbers: 1, PriceGBP: 29},
	TierGrowth:     {Minutes: 600, Numbers: 2, PriceGBP: 79},
	TierEnterprise: {Minutes: 2000, Numbers: 5, PriceGBP: 199},
}

// LimitForTier returns the allowance for a tier, false if the tier is unknown
func LimitForTier(tier Tier) (TierLimit, bool) {
	limit, ok := tierLimits[tier]
	return limit, ok
}

// BusinessStatus is the lifecycle status of a tenant
type BusinessStatus string

const (
	BusinessStatusPending        BusinessStatus = "pending"
	BusinessStatusOnboarding     BusinessStatus = "onboarding"
	BusinessStatusReadyForReview BusinessStatus = "ready_for_review"
	BusinessStatusActive         BusinessStatus = "active"
	BusinessStatusSuspended      BusinessStatus = "suspended"
	BusinessStatusCancelled      BusinessStatus = "cancelled"
)

// FAQEntry is one question/answer pair in a business FAQ
type FAQEntry struct {
	Q string `json:"q"`
	A string `json:"a"`
}

// FAQList is a JSONB-stored list of FAQ entries
type FAQList []FAQEntry

// Value implements driver.Valuer
func (l FAQList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *FAQList) Scan(value interface{}) error {
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

// Business represents a tenant of the phone-answering service
type Business struct {
	ID                string         `json:"id" gorm:"type:uuid;primaryKey"`
	Name              string         `json:"name" gorm:"type:varchar(255);not null"`
	BusinessType      string         `json:"business_type" gorm:"type:varchar(100)"`
	Tier              Tier           `json:"tier" gorm:"type:varchar(32);default:starter"`
	Status            BusinessStatus `json:"status" gorm:"type:varchar(32);default:pending;index"`
	OwnerPhone        string         `json:"owner_phone" gorm:"type:varchar(32)"`
	Greeting          string         `json:"greeting" gorm:"type:text"`
	AgentPersonality  string         `json:"agent_personality" gorm:"type:text"`
	AfterHoursMessage string         `json:"after_hours_message" gorm:"type:text"`
	TransferNumber    string         `json:"transfer_number" gorm:"type:varchar(32)"`
	RestrictedInfo    string         `json:"restricted_info" gorm:"type:text"`
	BusinessHours     JSONB          `json:"business_hours" gorm:"type:jsonb"`
	FAQ               FAQList        `json:"faq" gorm:"type:jsonb"`
	Config            JSONB          `json:"config" gorm:"type:jsonb"`
	CreatedAt         time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for Business
func (Business) TableName() string {
	return "businesses"
}

// DayHours is the open/close window for one weekday
type DayHours struct {
	Closed bool   `json:"closed,omitempty"`
	Open   string `json:"open,omitempty"`
	Close  string `json:"close,omitempty"`
}

// WithinBusinessHours reports whether now falls inside the configured hours.
// A business with no hours configured is always open.
func (b *Business) WithinBusinessHours(now time.Time) bool {
	if len(b.BusinessHours) == 0 {
		return true
	}

	day := strings.ToLower(now.Weekday().String())
	raw, ok := b.BusinessHours[day]
	if !ok || raw == nil {
		return false
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return true
	}
	var hours DayHours
	if err := json.Unmarshal(data, &hours); err != nil {
		return true
	}
	if hours.Closed {
		return false
	}

	open, err := time.Parse("15:04", defaultString(hours.Open, "09:00"))
	if err != nil {
		return true
	}
	close, err := time.Parse("15:04", defaultString(hours.Close, "17:00"))
	if err != nil {
		return true
	}

	minutes := now.Hour()*60 + now.Minute()
	return minutes >= open.Hour()*60+open.Minute() && minutes <= close.Hour()*60+close.Minute()
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// KnowledgeBaseEntry is one document the agent can quote from during calls
type KnowledgeBaseEntry struct {
	ID         string    `json:"id" gorm:"type:uuid;primaryKey"`
	BusinessID string    `json:"business_id" gorm:"type:uuid;index;not null"`
	Title      string    `json:"title" gorm:"type:varchar(255);not null"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	DocType    string    `json:"doc_type" gorm:"type:varchar(32);default:faq"`
	Active     bool      `json:"active" gorm:"default:true"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName sets the table name for KnowledgeBaseEntry
func (KnowledgeBaseEntry) TableName() string {
	return "knowledge_base"
}
