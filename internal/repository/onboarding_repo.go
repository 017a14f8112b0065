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

// OnboardingRepository handles database operations for onboarding interviews
type OnboardingRepository struct {
	db *gorm.DB
}

// NewOnboardingRepository creates a new onboarding repository
func NewOnboardingRepository(db *gorm.DB) *OnboardingRepository {
	return &OnboardingRepository{db: db}
}

// Create creates a new onboarding call record
func (r *OnboardingRepository) Create(ctx context.Context, ob *domain.OnboardingCall) error {
	if ob.ID == "" {
		ob.ID = uuid.New().String()
	}
	if ob.Status == "" {
		ob.Status = domain.OnboardingStatusPending
	}
	if ob.ExtractedData == nil {
		ob.ExtractedData = domain.JSONB{}
	}
	if err := r.db.WithContext(ctx).Create(ob).Error; err != nil {
		return fmt.Errorf("failed to create onboarding call: %w", err)
	}
	return nil
}

// GetByID retrieves an onboarding call by ID
func (r *OnboardingRepository) GetByID(ctx context.Context, id string) (*domain.OnboardingCall, error) {
	var ob domain.OnboardingCall
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ob).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get onboarding call: %w", err)
	}
	return &ob, nil
}

// SetProviderSID records the outbound provider call SID and marks the
// interview in progress
func (r *OnboardingRepository) SetProviderSID(ctx context.Context, id, sid string) error {
	err := r.db.WithContext(ctx).Model(&domain.OnboardingCall{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"provider_call_sid": sid,
			"status":            domain.OnboardingStatusInProgress,
			"updated_at":        time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to set onboarding provider sid: %w", err)
	}
	return nil
}

// SaveExtractedData persists the accumulated structured answers
func (r *OnboardingRepository) SaveExtractedData(ctx context.Context, id string, data domain.JSONB) error {
	err := r.db.WithContext(ctx).Model(&domain.OnboardingCall{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"extracted_data": data,
			"updated_at":     time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to save extracted data: %w", err)
	}
	return nil
}

// MarkCompleted transitions an interview to completed, exactly once. The
// status guard keeps a replayed final-answer webhook from re-completing it.
func (r *OnboardingRepository) MarkCompleted(ctx context.Context, id string, data domain.JSONB) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.OnboardingCall{}).
		Where("id = ? AND status IN ?", id, []domain.OnboardingStatus{
			domain.OnboardingStatusPending, domain.OnboardingStatusInProgress,
		}).
		Updates(map[string]interface{}{
			"extracted_data": data,
			"status":         domain.OnboardingStatusCompleted,
			"completed_at":   now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete onboarding call: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkFailed transitions a non-terminal interview to failed
func (r *OnboardingRepository) MarkFailed(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.OnboardingCall{}).
		Where("id = ? AND status IN ?", id, []domain.OnboardingStatus{
			domain.OnboardingStatusPending, domain.OnboardingStatusInProgress,
		}).
		Updates(map[string]interface{}{
			"status":     domain.OnboardingStatusFailed,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to fail onboarding call: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListByBusiness returns onboarding attempts for a business, newest first
func (r *OnboardingRepository) ListByBusiness(ctx context.Context, businessID string) ([]*domain.OnboardingCall, error) {
	var calls []*domain.OnboardingCall
	err := r.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Order("created_at DESC").
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list onboarding calls: %w", err)
	}
	return calls, nil
}
