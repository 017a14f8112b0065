package metering

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/internal/repository"
)

type fakeSMS struct {
	sent []string
}

func (f *fakeSMS) SendSMS(ctx context.Context, to, body string) error {
	f.sent = append(f.sent, body)
	return nil
}

func newMeteringFixture(t *testing.T) (*Service, repository.RepositoryManager, *fakeSMS, *domain.Business) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))

	repos := repository.NewGormRepositoryManager(db)
	business := &domain.Business{
		Name:       "Riverside Dental",
		Tier:       domain.TierStarter,
		OwnerPhone: "+447700900001",
	}
	require.NoError(t, repos.Business().Create(context.Background(), business))

	sms := &fakeSMS{}
	return NewService(repos, sms), repos, sms, business
}

func completedCall(t *testing.T, repos repository.RepositoryManager, business *domain.Business, sid string, seconds int) *domain.Call {
	t.Helper()
	ctx := context.Background()
	c := &domain.Call{
		BusinessID:      business.ID,
		ProviderCallSID: sid,
		CallerNumber:    "+447700900100",
	}
	_, err := repos.Call().CreateIfAbsent(ctx, c)
	require.NoError(t, err)
	require.NoError(t, repos.Call().SetDuration(ctx, sid, seconds))
	_, err = repos.Call().MarkTerminal(ctx, sid, domain.CallStatusCompleted)
	require.NoError(t, err)
	c, err = repos.Call().GetByProviderSID(ctx, sid)
	require.NoError(t, err)
	return c
}

func TestMeterRoundsUpAndStaysQuietBelowThreshold(t *testing.T) {
	svc, repos, sms, business := newMeteringFixture(t)
	ctx := context.Background()
	month := domain.MonthKey(time.Now().UTC())

	// 150 minutes already on the ledger this month
	_, err := repos.Usage().GetOrCreate(ctx, business.ID, month, 200)
	require.NoError(t, err)
	_, err = repos.Usage().AddMinutes(ctx, business.ID, month, 150)
	require.NoError(t, err)

	c := completedCall(t, repos, business, "CA100", 310)
	require.NoError(t, svc.MeterCompletedCall(ctx, c, business))

	usage, err := repos.Usage().Get(ctx, business.ID, month)
	require.NoError(t, err)
	assert.Equal(t, int64(156), usage.MinutesUsed)
	assert.Equal(t, int64(0), usage.OverageMinutes)
	assert.Empty(t, sms.sent)
}

func TestMeterJumpFiresEveryAlertOnceAscending(t *testing.T) {
	svc, repos, sms, business := newMeteringFixture(t)
	ctx := context.Background()
	month := domain.MonthKey(time.Now().UTC())

	_, err := repos.Usage().GetOrCreate(ctx, business.ID, month, 200)
	require.NoError(t, err)
	_, err = repos.Usage().AddMinutes(ctx, business.ID, month, 150)
	require.NoError(t, err)

	// One 50-minute call jumps the ledger past 80, 90 and 100 percent
	c := completedCall(t, repos, business, "CA101", 3000)
	require.NoError(t, svc.MeterCompletedCall(ctx, c, business))

	usage, err := repos.Usage().Get(ctx, business.ID, month)
	require.NoError(t, err)
	assert.Equal(t, int64(200), usage.MinutesUsed)
	require.Len(t, sms.sent, 3)
	assert.Contains(t, sms.sent[0], "80%")
	assert.Contains(t, sms.sent[1], "90%")
	assert.Contains(t, sms.sent[2], "100%")
	assert.Contains(t, sms.sent[2], "overage billing")

	// Another billed call must not repeat any alert
	c2 := completedCall(t, repos, business, "CA102", 360)
	require.NoError(t, svc.MeterCompletedCall(ctx, c2, business))

	usage, err = repos.Usage().Get(ctx, business.ID, month)
	require.NoError(t, err)
	assert.Equal(t, int64(206), usage.MinutesUsed)
	assert.Equal(t, int64(6), usage.OverageMinutes)
	assert.Len(t, sms.sent, 3)
}

func TestMeterRetryDoesNotDoubleBill(t *testing.T) {
	svc, repos, sms, business := newMeteringFixture(t)
	ctx := context.Background()
	month := domain.MonthKey(time.Now().UTC())

	c := completedCall(t, repos, business, "CA103", 120)
	require.NoError(t, svc.MeterCompletedCall(ctx, c, business))

	// Redelivered status callback re-runs metering for the same call
	c, err := repos.Call().GetByProviderSID(ctx, "CA103")
	require.NoError(t, err)
	require.NoError(t, svc.MeterCompletedCall(ctx, c, business))

	usage, err := repos.Usage().Get(ctx, business.ID, month)
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage.MinutesUsed)
	assert.Empty(t, sms.sent)
}

func TestMeterSkipsLiveCalls(t *testing.T) {
	svc, repos, _, business := newMeteringFixture(t)
	ctx := context.Background()

	c := &domain.Call{BusinessID: business.ID, ProviderCallSID: "CA104"}
	_, err := repos.Call().CreateIfAbsent(ctx, c)
	require.NoError(t, err)

	require.NoError(t, svc.MeterCompletedCall(ctx, c, business))

	usage, err := repos.Usage().Get(ctx, business.ID, domain.MonthKey(time.Now().UTC()))
	require.NoError(t, err)
	assert.Nil(t, usage)
}

func TestMeterLedgerFailureReleasesClaim(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	repos := repository.NewGormRepositoryManager(db)
	ctx := context.Background()

	business := &domain.Business{
		Name:       "Riverside Dental",
		Tier:       domain.TierStarter,
		OwnerPhone: "+447700900001",
	}
	require.NoError(t, repos.Business().Create(ctx, business))
	svc := NewService(repos, &fakeSMS{})

	c := completedCall(t, repos, business, "CA106", 120)

	// The ledger write fails mid-flight; the claim must not survive it
	require.NoError(t, db.Migrator().DropTable(&domain.MinutesUsage{}))
	require.Error(t, svc.MeterCompletedCall(ctx, c, business))

	c, err = repos.Call().GetByProviderSID(ctx, "CA106")
	require.NoError(t, err)
	assert.False(t, c.Metered)

	// Redelivered webhook bills the call once the ledger is back
	require.NoError(t, repository.Migrate(db))
	require.NoError(t, svc.MeterCompletedCall(ctx, c, business))

	usage, err := repos.Usage().Get(ctx, business.ID, domain.MonthKey(time.Now().UTC()))
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, int64(2), usage.MinutesUsed)
}

func TestMeterZeroDurationClaimsWithoutBilling(t *testing.T) {
	svc, repos, sms, business := newMeteringFixture(t)
	ctx := context.Background()

	c := completedCall(t, repos, business, "CA105", 0)
	require.NoError(t, svc.MeterCompletedCall(ctx, c, business))

	usage, err := repos.Usage().Get(ctx, business.ID, domain.MonthKey(time.Now().UTC()))
	require.NoError(t, err)
	assert.Nil(t, usage)
	assert.Empty(t, sms.sent)

	claimed, err := repos.Call().MarkMetered(ctx, "CA105")
	require.NoError(t, err)
	assert.False(t, claimed)
}
