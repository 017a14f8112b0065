package repository

import (
	"context"

	"gorm.io/gorm"
)

// RepositoryManager combines all repositories
type RepositoryManager interface {
	Business() *BusinessRepository
	PhoneNumber() *PhoneNumberRepository
	Call() *CallRepository
	Ticket() *TicketRepository
	Usage() *UsageRepository
	Onboarding() *OnboardingRepository
	KnowledgeBase() *KnowledgeBaseRepository

	// Transaction support
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM
type GormRepositoryManager struct {
	db             *gorm.DB
	businessRepo   *BusinessRepository
	phoneRepo      *PhoneNumberRepository
	callRepo       *CallRepository
	ticketRepo     *TicketRepository
	usageRepo      *UsageRepository
	onboardingRepo *OnboardingRepository
	knowledgeRepo  *KnowledgeBaseRepository
}

// NewRepositoryManager connects to the database configured in the
// environment, migrates the schema and returns a manager over it.
func NewRepositoryManager() (RepositoryManager, error) {
	db, err := NewDatabaseConnection(LoadDatabaseConfigFromEnv())
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return NewGormRepositoryManager(db), nil
}

// NewGormRepositoryManager creates a new GORM repository manager
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:             db,
		businessRepo:   NewBusinessRepository(db),
		phoneRepo:      NewPhoneNumberRepository(db),
		callRepo:       NewCallRepository(db),
		ticketRepo:     NewTicketRepository(db),
		usageRepo:      NewUsageRepository(db),
		onboardingRepo: NewOnboardingRepository(db),
		knowledgeRepo:  NewKnowledgeBaseRepository(db),
	}
}

func (m *GormRepositoryManager) Business() *BusinessRepository          { return m.businessRepo }
func (m *GormRepositoryManager) PhoneNumber() *PhoneNumberRepository    { return m.phoneRepo }
func (m *GormRepositoryManager) Call() *CallRepository                  { return m.callRepo }
func (m *GormRepositoryManager) Ticket() *TicketRepository              { return m.ticketRepo }
func (m *GormRepositoryManager) Usage() *UsageRepository                { return m.usageRepo }
func (m *GormRepositoryManager) Onboarding() *OnboardingRepository      { return m.onboardingRepo }
func (m *GormRepositoryManager) KnowledgeBase() *KnowledgeBaseRepository { return m.knowledgeRepo }

// WithTx executes a function within a database transaction
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormRepositoryManager(tx))
	})
}

// Ping checks the database connection
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
