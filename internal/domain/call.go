package domain

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"
)

// CallStatus is a call lifecycle status. Every status except in_progress is
// terminal; terminal statuses are never re-entered.
type CallStatus string

const (
	CallStatusInProgress  CallStatus = "in_progress"
	CallStatusCompleted   CallStatus = "completed"
	CallStatusMissed      CallStatus = "missed"
	CallStatusVoicemail   CallStatus = "voicemail"
	CallStatusTransferred CallStatus = "transferred"
)

// Terminal reports whether a status admits no further transition
func (s CallStatus) Terminal() bool {
	return s != "" && s != CallStatusInProgress
}

// Sentiment values produced by post-call analysis
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Resolution values produced by post-call analysis
const (
	ResolutionResolved   = "resolved"
	ResolutionEscalated  = "escalated"
	ResolutionUnresolved = "unresolved"
	ResolutionVoicemail  = "voicemail"
)

// ConversationEntry is one utterance in a call's conversation log
type ConversationEntry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationLog is the ordered, append-only exchange of a call
type ConversationLog []ConversationEntry

// Value implements driver.Valuer
func (l ConversationLog) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *ConversationLog) Scan(value interface{}) error {
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

// Transcript renders the log as "Speaker: text" lines for classification
func (l ConversationLog) Transcript() string {
	if len(l) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range l {
		b.WriteString(e.Speaker)
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// Call is the durable record of one telephone call
type Call struct {
	ID              string          `json:"id" gorm:"type:uuid;primaryKey"`
	BusinessID      string          `json:"business_id" gorm:"type:uuid;index;not null"`
	ProviderCallSID string          `json:"provider_call_sid" gorm:"column:provider_call_sid;type:varchar(64);uniqueIndex;not null"`
	CallerNumber    string          `json:"caller_number" gorm:"type:varchar(32);index:idx_calls_caller_history"`
	CalledNumber    string          `json:"called_number" gorm:"type:varchar(32)"`
	Direction       string          `json:"direction" gorm:"type:varchar(16);default:inbound"`
	Status          CallStatus      `json:"status" gorm:"type:varchar(16);default:in_progress;index"`
	DurationSeconds int             `json:"duration_seconds" gorm:"default:0"`
	ConversationLog ConversationLog `json:"conversation_log" gorm:"type:jsonb"`
	Transcript      string          `json:"transcript" gorm:"type:text"`
	RecordingURL    string          `json:"recording_url" gorm:"type:text"`
	Summary         string          `json:"summary" gorm:"type:text"`
	Category        string          `json:"category" gorm:"type:varchar(32)"`
	Sentiment       string          `json:"sentiment" gorm:"type:varchar(16)"`
	CallerIntent    string          `json:"caller_intent" gorm:"type:text"`
	Resolution      string          `json:"resolution" gorm:"type:varchar(32)"`
	ActionItems     StringList      `json:"action_items" gorm:"type:jsonb"`
	Metered         bool            `json:"metered" gorm:"default:false"`
	CompletedAt     *time.Time      `json:"completed_at"`
	CreatedAt       time.Time       `json:"created_at" gorm:"autoCreateTime;index:idx_calls_caller_history"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for Call
func (Call) TableName() string {
	return "calls"
}

// Analyzed reports whether post-call analysis has already been written
func (c *Call) Analyzed() bool {
	return c.Summary != ""
}

// CallSummary is the caller-history projection passed to the AI backbone
type CallSummary struct {
	Date      time.Time `json:"date"`
	Summary   string    `json:"summary"`
	Category  string    `json:"category"`
	Sentiment string    `json:"sentiment"`
}
