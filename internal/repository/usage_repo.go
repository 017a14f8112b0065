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

// UsageRepository handles database operations for the minutes ledger.
//
// The add path is a single atomic SQL increment so that concurrent call
// completions for one business never lose updates, and the alert flags flip
// through conditional UPDATEs whose row count decides who sends the alert.
type UsageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// GetOrCreate returns the ledger row for (business, month), creating it with
// the given limit when absent. A concurrent create is resolved through the
// unique index.
func (r *UsageRepository) GetOrCreate(ctx context.Context, businessID, month string, minutesLimit int64) (*domain.MinutesUsage, error) {
	row, err := r.Get(ctx, businessID, month)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row, nil
	}

	row = &domain.MinutesUsage{
		ID:           uuid.New().String(),
		BusinessID:   businessID,
		Month:        month,
		MinutesLimit: minutesLimit,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if existing, lookupErr := r.Get(ctx, businessID, month); lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create usage row: %w", err)
	}
	return row, nil
}

// Get returns the ledger row for (business, month), nil when absent
func (r *UsageRepository) Get(ctx context.Context, businessID, month string) (*domain.MinutesUsage, error) {
	var row domain.MinutesUsage
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND month = ?", businessID, month).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get usage row: %w", err)
	}
	return &row, nil
}

// AddMinutes atomically adds minutes to the ledger row, recomputes the
// overage from the post-increment value, and returns the updated row.
func (r *UsageRepository) AddMinutes(ctx context.Context, businessID, month string, minutes int64) (*domain.MinutesUsage, error) {
	res := r.db.WithContext(ctx).Model(&domain.MinutesUsage{}).
		Where("business_id = ? AND month = ?", businessID, month).
		Updates(map[string]interface{}{
			"minutes_used": gorm.Expr("minutes_used + ?", minutes),
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to add minutes: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("usage row for business %s month %s not found", businessID, month)
	}

	// Overage references the just-incremented columns inside the UPDATE, so
	// a concurrent add cannot write back a stale value.
	err := r.db.WithContext(ctx).Model(&domain.MinutesUsage{}).
		Where("business_id = ? AND month = ?", businessID, month).
		Update("overage_minutes", gorm.Expr(
			"CASE WHEN minutes_limit > 0 AND minutes_used > minutes_limit THEN minutes_used - minutes_limit ELSE 0 END")).Error
	if err != nil {
		return nil, fmt.Errorf("failed to recompute overage: %w", err)
	}

	return r.Get(ctx, businessID, month)
}

// MarkAlertSent flips one alert flag false->true. It returns true only for
// the caller that performed the transition; retried or concurrent
// invocations see false and must not re-send the alert.
func (r *UsageRepository) MarkAlertSent(ctx context.Context, businessID, month string, threshold int) (bool, error) {
	var column string
	switch threshold {
	case 80:
		column = "alert_80_sent"
	case 90:
		column = "alert_90_sent"
	case 100:
		column = "alert_100_sent"
	default:
		return false, fmt.Errorf("unknown alert threshold %d", threshold)
	}

	res := r.db.WithContext(ctx).Model(&domain.MinutesUsage{}).
		Where("business_id = ? AND month = ? AND "+column+" = ?", businessID, month, false).
		Update(column, true)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark alert sent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
