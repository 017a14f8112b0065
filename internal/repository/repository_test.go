package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/voicebothq/voicebot-service/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

// The repositories address these columns in raw query strings, so the
// migrated names must match exactly whatever the naming strategy would
// otherwise generate for the field names.
func TestMigratedColumnNames(t *testing.T) {
	db := newTestDB(t)

	for model, columns := range map[interface{}][]string{
		&domain.Call{}:           {"provider_call_sid"},
		&domain.OnboardingCall{}: {"provider_call_sid"},
		&domain.MinutesUsage{}:   {"alert_80_sent", "alert_90_sent", "alert_100_sent"},
	} {
		for _, column := range columns {
			require.True(t, db.Migrator().HasColumn(model, column),
				"missing column %s", column)
		}
	}
}

func newTestBusiness(t *testing.T, db *gorm.DB) *domain.Business {
	t.Helper()
	repo := NewBusinessRepository(db)
	business := &domain.Business{
		Name:         "Riverside Dental",
		BusinessType: "dental practice",
		Tier:         domain.TierStarter,
		OwnerPhone:   "+447700900001",
	}
	require.NoError(t, repo.Create(context.Background(), business))
	return business
}
