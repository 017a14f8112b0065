package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/voicebothq/voicebot-service/internal/domain"
	"gorm.io/gorm"
)

// CallRepository handles database operations for calls.
//
// Webhooks are delivered at least once, so every mutation here is keyed by
// the provider call SID and guarded by a conditional UPDATE (or a unique
// index) rather than an application-level read-modify-write.
type CallRepository struct {
	db *gorm.DB
}

// NewCallRepository creates a new call repository
func NewCallRepository(db *gorm.DB) *CallRepository {
	return &CallRepository{db: db}
}

// CreateIfAbsent inserts a call record for a provider call SID. It returns
// created=false when a record for the SID already exists, which is how a
// replayed call-start webhook is detected.
func (r *CallRepository) CreateIfAbsent(ctx context.Context, call *domain.Call) (bool, error) {
	existing, err := r.GetByProviderSID(ctx, call.ProviderCallSID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		*call = *existing
		return false, nil
	}

	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.Status == "" {
		call.Status = domain.CallStatusInProgress
	}
	if call.Direction == "" {
		call.Direction = "inbound"
	}
	if err := r.db.WithContext(ctx).Create(call).Error; err != nil {
		// A concurrent duplicate delivery can lose the race between the
		// existence check and the insert; the unique index on the SID
		// turns that into an error we resolve as a duplicate.
		if existing, lookupErr := r.GetByProviderSID(ctx, call.ProviderCallSID); lookupErr == nil && existing != nil {
			*call = *existing
			return false, nil
		}
		return false, fmt.Errorf("failed to create call: %w", err)
	}
	return true, nil
}

// GetByProviderSID retrieves a call by provider call SID
func (r *CallRepository) GetByProviderSID(ctx context.Context, sid string) (*domain.Call, error) {
	var call domain.Call
	if err := r.db.WithContext(ctx).Where("provider_call_sid = ?", sid).First(&call).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return &call, nil
}

// UpdateConversationLog persists the full conversation log and transcript
// for a call. Turns are sequential per call from the provider's side, so the
// latest log is always a superset of the previous one.
func (r *CallRepository) UpdateConversationLog(ctx context.Context, sid string, log domain.ConversationLog) error {
	err := r.db.WithContext(ctx).Model(&domain.Call{}).
		Where("provider_call_sid = ?", sid).
		Updates(map[string]interface{}{
			"conversation_log": log,
			"transcript":       log.Transcript(),
			"updated_at":       time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update conversation log: %w", err)
	}
	return nil
}

// MarkTerminal transitions a call to a terminal status and stamps
// completed_at, exactly once. It returns false when the call is already
// terminal, which callers treat as a replayed event.
func (r *CallRepository) MarkTerminal(ctx context.Context, sid string, status domain.CallStatus) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.Call{}).
		Where("provider_call_sid = ? AND status = ?", sid, domain.CallStatusInProgress).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark call terminal: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SetDuration records the provider-reported call duration
func (r *CallRepository) SetDuration(ctx context.Context, sid string, seconds int) error {
	err := r.db.WithContext(ctx).Model(&domain.Call{}).
		Where("provider_call_sid = ?", sid).
		Updates(map[string]interface{}{"duration_seconds": seconds, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to set call duration: %w", err)
	}
	return nil
}

// SetRecordingURL records the URL of the provider-side recording
func (r *CallRepository) SetRecordingURL(ctx context.Context, sid, url string) error {
	err := r.db.WithContext(ctx).Model(&domain.Call{}).
		Where("provider_call_sid = ?", sid).
		Updates(map[string]interface{}{"recording_url": url, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to set recording url: %w", err)
	}
	return nil
}

// MarkMetered claims the per-call metering marker. It returns false when the
// call's duration was already added to the ledger.
func (r *CallRepository) MarkMetered(ctx context.Context, sid string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Call{}).
		Where("provider_call_sid = ? AND metered = ?", sid, false).
		Updates(map[string]interface{}{"metered": true, "updated_at": time.Now()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark call metered: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AnalysisFields is the write-once result of post-call classification
type AnalysisFields struct {
	Summary      string
	Category     string
	Sentiment    string
	CallerIntent string
	Resolution   string
	ActionItems  domain.StringList
}

// SetAnalysis writes the classification onto a call, once. It returns false
// when a summary is already present (a retried trigger).
func (r *CallRepository) SetAnalysis(ctx context.Context, sid string, fields AnalysisFields) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Call{}).
		Where("provider_call_sid = ? AND (summary = '' OR summary IS NULL)", sid).
		Updates(map[string]interface{}{
			"summary":       fields.Summary,
			"category":      fields.Category,
			"sentiment":     fields.Sentiment,
			"caller_intent": fields.CallerIntent,
			"resolution":    fields.Resolution,
			"action_items":  fields.ActionItems,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to set call analysis: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CallerHistory returns at most limit completed calls from a caller to a
// business, most recent first, projected to the fields the AI backbone
// consumes. An unknown caller yields an empty slice, not an error.
func (r *CallRepository) CallerHistory(ctx context.Context, businessID, callerNumber string, limit int) ([]domain.CallSummary, error) {
	var calls []domain.Call
	err := r.db.WithContext(ctx).
		Select("created_at", "summary", "category", "sentiment").
		Where("business_id = ? AND caller_number = ? AND status = ?",
			businessID, callerNumber, domain.CallStatusCompleted).
		Order("created_at DESC").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get caller history: %w", err)
	}

	history := make([]domain.CallSummary, 0, len(calls))
	for _, c := range calls {
		history = append(history, domain.CallSummary{
			Date:      c.CreatedAt,
			Summary:   c.Summary,
			Category:  c.Category,
			Sentiment: c.Sentiment,
		})
	}
	return history, nil
}

// CountInProgress counts live calls for a business. Active calls are always
// derived from this query, never from a maintained counter, so crashed
// handlers cannot make the figure drift.
func (r *CallRepository) CountInProgress(ctx context.Context, businessID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Call{}).
		Where("business_id = ? AND status = ?", businessID, domain.CallStatusInProgress).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count in-progress calls: %w", err)
	}
	return count, nil
}

// ListInProgress returns the live calls for a business, newest first
func (r *CallRepository) ListInProgress(ctx context.Context, businessID string) ([]*domain.Call, error) {
	var calls []*domain.Call
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND status = ?", businessID, domain.CallStatusInProgress).
		Order("created_at DESC").
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list in-progress calls: %w", err)
	}
	return calls, nil
}

// ListRecent returns the most recent calls for a business
func (r *CallRepository) ListRecent(ctx context.Context, businessID string, limit int) ([]*domain.Call, error) {
	var calls []*domain.Call
	err := r.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Order("created_at DESC").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent calls: %w", err)
	}
	return calls, nil
}
