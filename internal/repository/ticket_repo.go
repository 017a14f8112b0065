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

// TicketRepository handles database operations for tickets
type TicketRepository struct {
	db *gorm.DB
}

// NewTicketRepository creates a new ticket repository
func NewTicketRepository(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// CreateForCall creates the single ticket derived from a call. It returns
// created=false when a ticket for the call already exists; the unique index
// on call_id backstops concurrent analysis retries.
func (r *TicketRepository) CreateForCall(ctx context.Context, ticket *domain.Ticket) (bool, error) {
	existing, err := r.GetByCallID(ctx, ticket.CallID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}
	if ticket.Status == "" {
		ticket.Status = domain.TicketStatusOpen
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityNormal
	}
	if err := r.db.WithContext(ctx).Create(ticket).Error; err != nil {
		if existing, lookupErr := r.GetByCallID(ctx, ticket.CallID); lookupErr == nil && existing != nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to create ticket: %w", err)
	}
	return true, nil
}

// GetByCallID retrieves the ticket derived from a call, nil when absent
func (r *TicketRepository) GetByCallID(ctx context.Context, callID string) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&ticket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &ticket, nil
}

// ListByBusiness returns tickets for a business, optionally filtered by status
func (r *TicketRepository) ListByBusiness(ctx context.Context, businessID string, status domain.TicketStatus) ([]*domain.Ticket, error) {
	query := r.db.WithContext(ctx).Where("business_id = ?", businessID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var tickets []*domain.Ticket
	if err := query.Order("created_at DESC").Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}

// UpdateStatus moves a ticket through its workflow and appends notes
func (r *TicketRepository) UpdateStatus(ctx context.Context, id, businessID string, status domain.TicketStatus, notes string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if notes != "" {
		updates["notes"] = notes
	}
	err := r.db.WithContext(ctx).Model(&domain.Ticket{}).
		Where("id = ? AND business_id = ?", id, businessID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	return nil
}
