package call

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/pkg/ai"
)

func completedWithTranscript(t *testing.T, f *sessionFixture, sid string) *domain.Call {
	t.Helper()
	ctx := context.Background()
	c := &domain.Call{
		BusinessID:      f.business.ID,
		ProviderCallSID: sid,
		CallerNumber:    "+447700900100",
		ConversationLog: domain.ConversationLog{
			{Speaker: SpeakerAgent, Text: "How can I help?"},
			{Speaker: SpeakerCaller, Text: "My order arrived broken."},
		},
	}
	_, err := f.repos.Call().CreateIfAbsent(ctx, c)
	require.NoError(t, err)
	_, err = f.repos.Call().MarkTerminal(ctx, sid, domain.CallStatusCompleted)
	require.NoError(t, err)
	c, err = f.repos.Call().GetByProviderSID(ctx, sid)
	require.NoError(t, err)
	return c
}

func TestAnalyzeSkipsEmptyTranscript(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	c := &domain.Call{BusinessID: f.business.ID, ProviderCallSID: "CA300"}
	_, err := f.repos.Call().CreateIfAbsent(ctx, c)
	require.NoError(t, err)
	_, err = f.repos.Call().MarkTerminal(ctx, "CA300", domain.CallStatusMissed)
	require.NoError(t, err)

	// No backbone classification configured: analysis would fail if it ran
	require.NoError(t, f.svc.analyzer.AnalyzeCompletedCall(ctx, c, f.business))

	got, err := f.repos.Call().GetByProviderSID(ctx, "CA300")
	require.NoError(t, err)
	assert.Empty(t, got.Summary)
}

func TestAnalyzeWritesOnce(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.backbone.classify = &ai.Classification{
		Summary:    "Caller reported a broken delivery.",
		Category:   "complaint",
		Sentiment:  domain.SentimentNegative,
		Resolution: domain.ResolutionEscalated,
	}

	c := completedWithTranscript(t, f, "CA301")
	require.NoError(t, f.svc.analyzer.AnalyzeCompletedCall(ctx, c, f.business))

	// Retried trigger with a different result must not overwrite
	f.backbone.classify.Summary = "Something else entirely."
	c, err := f.repos.Call().GetByProviderSID(ctx, "CA301")
	require.NoError(t, err)
	require.NoError(t, f.svc.analyzer.AnalyzeCompletedCall(ctx, c, f.business))

	got, err := f.repos.Call().GetByProviderSID(ctx, "CA301")
	require.NoError(t, err)
	assert.Equal(t, "Caller reported a broken delivery.", got.Summary)
	assert.Equal(t, "complaint", got.Category)
}

func TestAnalyzeCreatesSingleTicket(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.backbone.classify = &ai.Classification{
		Summary:            "Caller reported a broken delivery.",
		Category:           "complaint",
		Sentiment:          domain.SentimentNeutral,
		Resolution:         domain.ResolutionEscalated,
		ShouldCreateTicket: true,
		TicketData: map[string]interface{}{
			"type":     "complaint",
			"priority": domain.TicketPriorityNormal,
			"subject":  "Broken delivery",
		},
	}

	c := completedWithTranscript(t, f, "CA302")
	require.NoError(t, f.svc.analyzer.AnalyzeCompletedCall(ctx, c, f.business))

	// A redelivered trigger on an unanalyzed copy still yields one ticket
	fresh := *c
	fresh.Summary = ""
	require.NoError(t, f.svc.analyzer.AnalyzeCompletedCall(ctx, &fresh, f.business))

	tickets, err := f.repos.Ticket().ListByBusiness(ctx, f.business.ID, "")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "Broken delivery", tickets[0].Subject)
	assert.Equal(t, "+447700900100", tickets[0].CallerNumber)
}

func TestAnalyzeActionItemsForceTicket(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	// The backbone left the flag unset despite outstanding action items
	f.backbone.classify = &ai.Classification{
		Summary:            "Caller needs a callback about a refund.",
		Category:           "enquiry",
		Sentiment:          domain.SentimentNeutral,
		Resolution:         domain.ResolutionUnresolved,
		ActionItems:        []string{"Call the customer back about the refund"},
		ShouldCreateTicket: false,
	}

	c := completedWithTranscript(t, f, "CA305")
	require.NoError(t, f.svc.analyzer.AnalyzeCompletedCall(ctx, c, f.business))

	tickets, err := f.repos.Ticket().ListByBusiness(ctx, f.business.ID, "")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "Caller needs a callback about a refund.", tickets[0].Description)
}

func TestAnalyzeActionableCategoryForcesTicket(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.backbone.classify = &ai.Classification{
		Summary:            "Caller placed an order for a repeat prescription.",
		Category:           "order",
		Sentiment:          domain.SentimentPositive,
		Resolution:         domain.ResolutionResolved,
		ShouldCreateTicket: false,
	}

	c := completedWithTranscript(t, f, "CA306")
	require.NoError(t, f.svc.analyzer.AnalyzeCompletedCall(ctx, c, f.business))

	tickets, err := f.repos.Ticket().ListByBusiness(ctx, f.business.ID, "")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "order", tickets[0].Type)
}

func TestAnalyzePlainEnquiryRaisesNoTicket(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.backbone.classify = &ai.Classification{
		Summary:    "Caller asked about opening hours.",
		Category:   "enquiry",
		Sentiment:  domain.SentimentPositive,
		Resolution: domain.ResolutionResolved,
	}

	c := completedWithTranscript(t, f, "CA307")
	require.NoError(t, f.svc.analyzer.AnalyzeCompletedCall(ctx, c, f.business))

	tickets, err := f.repos.Ticket().ListByBusiness(ctx, f.business.ID, "")
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestAnalyzeNegativeSentimentRaisesPriority(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.backbone.classify = &ai.Classification{
		Summary:            "Caller was very unhappy about a missed booking.",
		Category:           "complaint",
		Sentiment:          domain.SentimentNegative,
		Resolution:         domain.ResolutionUnresolved,
		ShouldCreateTicket: true,
		TicketData: map[string]interface{}{
			"priority": domain.TicketPriorityLow,
			"subject":  "Missed booking",
		},
	}

	c := completedWithTranscript(t, f, "CA303")
	require.NoError(t, f.svc.analyzer.AnalyzeCompletedCall(ctx, c, f.business))

	tickets, err := f.repos.Ticket().ListByBusiness(ctx, f.business.ID, "")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, domain.TicketPriorityHigh, tickets[0].Priority)
}

func TestAnalyzeVoicemailResolution(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.backbone.classify = &ai.Classification{
		Summary:    "Caller left a message about rescheduling.",
		Category:   "booking",
		Sentiment:  domain.SentimentNeutral,
		Resolution: domain.ResolutionResolved,
	}

	c := &domain.Call{
		BusinessID:      f.business.ID,
		ProviderCallSID: "CA304",
		ConversationLog: domain.ConversationLog{
			{Speaker: SpeakerCaller, Text: "Please call me back about my appointment."},
		},
	}
	_, err := f.repos.Call().CreateIfAbsent(ctx, c)
	require.NoError(t, err)
	_, err = f.repos.Call().MarkTerminal(ctx, "CA304", domain.CallStatusVoicemail)
	require.NoError(t, err)
	c, err = f.repos.Call().GetByProviderSID(ctx, "CA304")
	require.NoError(t, err)

	require.NoError(t, f.svc.analyzer.AnalyzeCompletedCall(ctx, c, f.business))

	got, err := f.repos.Call().GetByProviderSID(ctx, "CA304")
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionVoicemail, got.Resolution)
}
