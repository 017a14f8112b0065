package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebothq/voicebot-service/internal/domain"
)

func TestCreateIfAbsentDuplicateStart(t *testing.T) {
	db := newTestDB(t)
	business := newTestBusiness(t, db)
	repo := NewCallRepository(db)
	ctx := context.Background()

	first := &domain.Call{
		BusinessID:      business.ID,
		ProviderCallSID: "CA001",
		CallerNumber:    "+447700900100",
	}
	created, err := repo.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	// Replayed call-start webhook: same SID, no second record
	replay := &domain.Call{
		BusinessID:      business.ID,
		ProviderCallSID: "CA001",
		CallerNumber:    "+447700900100",
	}
	created, err = repo.CreateIfAbsent(ctx, replay)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, replay.ID)

	var count int64
	require.NoError(t, db.Model(&domain.Call{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMarkTerminalIsMonotonic(t *testing.T) {
	db := newTestDB(t)
	business := newTestBusiness(t, db)
	repo := NewCallRepository(db)
	ctx := context.Background()

	c := &domain.Call{BusinessID: business.ID, ProviderCallSID: "CA002"}
	_, err := repo.CreateIfAbsent(ctx, c)
	require.NoError(t, err)

	marked, err := repo.MarkTerminal(ctx, "CA002", domain.CallStatusTransferred)
	require.NoError(t, err)
	assert.True(t, marked)

	// A late completed status callback must not overwrite transferred
	marked, err = repo.MarkTerminal(ctx, "CA002", domain.CallStatusCompleted)
	require.NoError(t, err)
	assert.False(t, marked)

	got, err := repo.GetByProviderSID(ctx, "CA002")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusTransferred, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestMarkTerminalRejectsInProgress(t *testing.T) {
	db := newTestDB(t)
	repo := NewCallRepository(db)

	_, err := repo.MarkTerminal(context.Background(), "CA003", domain.CallStatusInProgress)
	assert.Error(t, err)
}

func TestCallerHistoryLimitAndOrder(t *testing.T) {
	db := newTestDB(t)
	business := newTestBusiness(t, db)
	repo := NewCallRepository(db)
	ctx := context.Background()
	caller := "+447700900200"

	base := time.Now().Add(-72 * time.Hour)
	for i := 0; i < 4; i++ {
		c := &domain.Call{
			BusinessID:      business.ID,
			ProviderCallSID: fmt.Sprintf("CAH%03d", i),
			CallerNumber:    caller,
			Status:          domain.CallStatusCompleted,
			Summary:         fmt.Sprintf("call %d", i),
			Category:        "enquiry",
			Sentiment:       domain.SentimentNeutral,
		}
		_, err := repo.CreateIfAbsent(ctx, c)
		require.NoError(t, err)
		// Space the rows out so ordering is deterministic
		require.NoError(t, db.Model(&domain.Call{}).
			Where("provider_call_sid = ?", c.ProviderCallSID).
			Update("created_at", base.Add(time.Duration(i)*time.Hour)).Error)
	}
	// A live call from the same caller must not appear in history
	_, err := repo.CreateIfAbsent(ctx, &domain.Call{
		BusinessID:      business.ID,
		ProviderCallSID: "CAH999",
		CallerNumber:    caller,
	})
	require.NoError(t, err)

	history, err := repo.CallerHistory(ctx, business.ID, caller, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "call 3", history[0].Summary)
	assert.Equal(t, "call 2", history[1].Summary)
}

func TestCallerHistoryUnknownCaller(t *testing.T) {
	db := newTestDB(t)
	business := newTestBusiness(t, db)
	repo := NewCallRepository(db)

	history, err := repo.CallerHistory(context.Background(), business.ID, "+440000000000", 2)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMarkMeteredClaimsOnce(t *testing.T) {
	db := newTestDB(t)
	business := newTestBusiness(t, db)
	repo := NewCallRepository(db)
	ctx := context.Background()

	_, err := repo.CreateIfAbsent(ctx, &domain.Call{BusinessID: business.ID, ProviderCallSID: "CA010"})
	require.NoError(t, err)

	claimed, err := repo.MarkMetered(ctx, "CA010")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.MarkMetered(ctx, "CA010")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestSetAnalysisWritesOnce(t *testing.T) {
	db := newTestDB(t)
	business := newTestBusiness(t, db)
	repo := NewCallRepository(db)
	ctx := context.Background()

	_, err := repo.CreateIfAbsent(ctx, &domain.Call{BusinessID: business.ID, ProviderCallSID: "CA011"})
	require.NoError(t, err)

	wrote, err := repo.SetAnalysis(ctx, "CA011", AnalysisFields{
		Summary:    "Caller asked about opening hours.",
		Category:   "enquiry",
		Sentiment:  domain.SentimentPositive,
		Resolution: domain.ResolutionResolved,
	})
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = repo.SetAnalysis(ctx, "CA011", AnalysisFields{Summary: "Different summary."})
	require.NoError(t, err)
	assert.False(t, wrote)

	got, err := repo.GetByProviderSID(ctx, "CA011")
	require.NoError(t, err)
	assert.Equal(t, "Caller asked about opening hours.", got.Summary)
}

func TestCountInProgressIsLive(t *testing.T) {
	db := newTestDB(t)
	business := newTestBusiness(t, db)
	repo := NewCallRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.CreateIfAbsent(ctx, &domain.Call{
			BusinessID:      business.ID,
			ProviderCallSID: fmt.Sprintf("CAL%03d", i),
		})
		require.NoError(t, err)
	}

	count, err := repo.CountInProgress(ctx, business.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	_, err = repo.MarkTerminal(ctx, "CAL001", domain.CallStatusCompleted)
	require.NoError(t, err)

	count, err = repo.CountInProgress(ctx, business.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
