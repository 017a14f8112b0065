package domain

import "time"

// TicketStatus is a ticket workflow status
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// Ticket priorities, lowest to highest
const (
	TicketPriorityLow    = "low"
	TicketPriorityNormal = "normal"
	TicketPriorityHigh   = "high"
	TicketPriorityUrgent = "urgent"
)

// Ticket is an actionable item derived from at most one call
type Ticket struct {
	ID           string       `json:"id" gorm:"type:uuid;primaryKey"`
	BusinessID   string       `json:"business_id" gorm:"type:uuid;index;not null"`
	CallID       string       `json:"call_id" gorm:"type:uuid;uniqueIndex"`
	Type         string       `json:"type" gorm:"type:varchar(32);default:enquiry"`
	Status       TicketStatus `json:"status" gorm:"type:varchar(16);default:open;index"`
	Priority     string       `json:"priority" gorm:"type:varchar(16);default:normal"`
	Subject      string       `json:"subject" gorm:"type:varchar(255)"`
	Description  string       `json:"description" gorm:"type:text"`
	CallerName   string       `json:"caller_name" gorm:"type:varchar(100)"`
	CallerNumber string       `json:"caller_number" gorm:"type:varchar(32)"`
	Notes        string       `json:"notes" gorm:"type:text"`
	CreatedAt    time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for Ticket
func (Ticket) TableName() string {
	return "tickets"
}
