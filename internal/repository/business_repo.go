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

// BusinessRepository handles database operations for businesses
type BusinessRepository struct {
	db *gorm.DB
}

// NewBusinessRepository creates a new business repository
func NewBusinessRepository(db *gorm.DB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

// Create creates a new business
func (r *BusinessRepository) Create(ctx context.Context, business *domain.Business) error {
	if business.ID == "" {
		business.ID = uuid.New().String()
	}
	if business.Tier == "" {
		business.Tier = domain.TierStarter
	}
	if business.Status == "" {
		business.Status = domain.BusinessStatusPending
	}
	if err := r.db.WithContext(ctx).Create(business).Error; err != nil {
		return fmt.Errorf("failed to create business: %w", err)
	}
	return nil
}

// GetByID retrieves a business by ID
func (r *BusinessRepository) GetByID(ctx context.Context, id string) (*domain.Business, error) {
	var business domain.Business
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&business).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get business: %w", err)
	}
	return &business, nil
}

// GetByNumber looks up the business that owns an assigned phone number,
// together with the number-level greeting and personality overrides.
func (r *BusinessRepository) GetByNumber(ctx context.Context, number string) (*domain.Business, *domain.PhoneNumber, error) {
	var phone domain.PhoneNumber
	err := r.db.WithContext(ctx).
		Where("number = ? AND status = ?", number, domain.PhoneNumberStatusAssigned).
		First(&phone).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to look up phone number: %w", err)
	}
	if phone.BusinessID == nil {
		return nil, &phone, nil
	}

	business, err := r.GetByID(ctx, *phone.BusinessID)
	if err != nil {
		return nil, nil, err
	}
	return business, &phone, nil
}

// UpdateConfig writes the agent configuration produced by onboarding
func (r *BusinessRepository) UpdateConfig(ctx context.Context, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	if err := r.db.WithContext(ctx).Model(&domain.Business{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update business config: %w", err)
	}
	return nil
}

// SetStatus transitions the business lifecycle status
func (r *BusinessRepository) SetStatus(ctx context.Context, id string, status domain.BusinessStatus) error {
	res := r.db.WithContext(ctx).Model(&domain.Business{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to set business status: %w", res.Error)
	}
	return nil
}

// PhoneNumberRepository handles database operations for phone numbers
type PhoneNumberRepository struct {
	db *gorm.DB
}

// NewPhoneNumberRepository creates a new phone number repository
func NewPhoneNumberRepository(db *gorm.DB) *PhoneNumberRepository {
	return &PhoneNumberRepository{db: db}
}

// Create creates a new phone number record
func (r *PhoneNumberRepository) Create(ctx context.Context, phone *domain.PhoneNumber) error {
	if phone.ID == "" {
		phone.ID = uuid.New().String()
	}
	if phone.Status == "" {
		if phone.BusinessID != nil {
			phone.Status = domain.PhoneNumberStatusAssigned
		} else {
			phone.Status = domain.PhoneNumberStatusAvailable
		}
	}
	if err := r.db.WithContext(ctx).Create(phone).Error; err != nil {
		return fmt.Errorf("failed to create phone number: %w", err)
	}
	return nil
}

// GetByID retrieves a phone number by ID
func (r *PhoneNumberRepository) GetByID(ctx context.Context, id string) (*domain.PhoneNumber, error) {
	var phone domain.PhoneNumber
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get phone number: %w", err)
	}
	return &phone, nil
}

// Assign attaches an available number to a business
func (r *PhoneNumberRepository) Assign(ctx context.Context, id, businessID string) error {
	res := r.db.WithContext(ctx).Model(&domain.PhoneNumber{}).
		Where("id = ? AND status = ?", id, domain.PhoneNumberStatusAvailable).
		Updates(map[string]interface{}{
			"business_id": businessID,
			"status":      domain.PhoneNumberStatusAssigned,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to assign phone number: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("phone number %s is not available", id)
	}
	return nil
}

// Release detaches a number from its business
func (r *PhoneNumberRepository) Release(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&domain.PhoneNumber{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"business_id": nil,
			"status":      domain.PhoneNumberStatusReleased,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to release phone number: %w", res.Error)
	}
	return nil
}

// ListByBusiness returns the assigned numbers of a business
func (r *PhoneNumberRepository) ListByBusiness(ctx context.Context, businessID string) ([]*domain.PhoneNumber, error) {
	var phones []*domain.PhoneNumber
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND status = ?", businessID, domain.PhoneNumberStatusAssigned).
		Find(&phones).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list phone numbers: %w", err)
	}
	return phones, nil
}

// KnowledgeBaseRepository handles database operations for knowledge base entries
type KnowledgeBaseRepository struct {
	db *gorm.DB
}

// NewKnowledgeBaseRepository creates a new knowledge base repository
func NewKnowledgeBaseRepository(db *gorm.DB) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: db}
}

// Create creates a new knowledge base entry
func (r *KnowledgeBaseRepository) Create(ctx context.Context, entry *domain.KnowledgeBaseEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.Active = true
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create knowledge base entry: %w", err)
	}
	return nil
}

// ListActive returns the active entries for a business, oldest first
func (r *KnowledgeBaseRepository) ListActive(ctx context.Context, businessID string) ([]*domain.KnowledgeBaseEntry, error) {
	var entries []*domain.KnowledgeBaseEntry
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND active = ?", businessID, true).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge base entries: %w", err)
	}
	return entries, nil
}

// Deactivate soft-deletes an entry
func (r *KnowledgeBaseRepository) Deactivate(ctx context.Context, id, businessID string) error {
	err := r.db.WithContext(ctx).Model(&domain.KnowledgeBaseEntry{}).
		Where("id = ? AND business_id = ?", id, businessID).
		Update("active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate knowledge base entry: %w", err)
	}
	return nil
}
