package call

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/internal/prompts"
	"github.com/voicebothq/voicebot-service/internal/repository"
	"github.com/voicebothq/voicebot-service/pkg/ai"
)

// memStateStore is an in-memory StateStore for tests
type memStateStore struct {
	mu     sync.Mutex
	states map[string]*ConversationState
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: map[string]*ConversationState{}}
}

func (m *memStateStore) Load(ctx context.Context, callSID string) (*ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[callSID]
	if !ok {
		return nil, domain.ErrSessionExpired
	}
	copied := *state
	return &copied, nil
}

func (m *memStateStore) Save(ctx context.Context, callSID string, state *ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	m.states[callSID] = &copied
	return nil
}

func (m *memStateStore) Delete(ctx context.Context, callSID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, callSID)
	return nil
}

// fakeBackbone scripts the AI backbone for tests
type fakeBackbone struct {
	reply    string
	replyErr error
	classify *ai.Classification
}

func (f *fakeBackbone) GenerateReply(ctx context.Context, rc *prompts.ReplyContext) (string, error) {
	if f.replyErr != nil {
		return "", f.replyErr
	}
	return f.reply, nil
}

func (f *fakeBackbone) ClassifyCall(ctx context.Context, transcript, businessName, businessType string) (*ai.Classification, error) {
	if f.classify == nil {
		return nil, domain.ErrBackboneFailure
	}
	return f.classify, nil
}

func (f *fakeBackbone) ExtractOnboardingFields(ctx context.Context, q domain.OnboardingQuestion, answer string) (map[string]interface{}, error) {
	return map[string]interface{}{q.FieldName: answer}, nil
}

func (f *fakeBackbone) BuildAgentConfig(ctx context.Context, name, businessType string, answers map[string]interface{}) (*ai.AgentConfig, error) {
	return &ai.AgentConfig{Greeting: "Hello"}, nil
}

func (f *fakeBackbone) OnboardingQuestions(ctx context.Context, name, businessType string) ([]domain.OnboardingQuestion, error) {
	return ai.DefaultOnboardingQuestions(), nil
}

type fakeMeter struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeMeter) MeterCompletedCall(ctx context.Context, c *domain.Call, business *domain.Business) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = f.calls + 1
	return nil
}

type sessionFixture struct {
	svc      *Service
	repos    repository.RepositoryManager
	backbone *fakeBackbone
	meter    *fakeMeter
	states   *memStateStore
	business *domain.Business
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	repos := repository.NewGormRepositoryManager(db)
	ctx := context.Background()

	business := &domain.Business{
		Name:           "Riverside Dental",
		BusinessType:   "dental practice",
		Tier:           domain.TierStarter,
		Status:         domain.BusinessStatusActive,
		OwnerPhone:     "+447700900001",
		Greeting:       "Thanks for calling Riverside Dental, how can I help?",
		TransferNumber: "+447700900099",
	}
	require.NoError(t, repos.Business().Create(ctx, business))

	phone := &domain.PhoneNumber{Number: "+441134960000", Status: domain.PhoneNumberStatusAvailable}
	require.NoError(t, repos.PhoneNumber().Create(ctx, phone))
	require.NoError(t, repos.PhoneNumber().Assign(ctx, phone.ID, business.ID))

	backbone := &fakeBackbone{reply: "We're open nine to five."}
	meter := &fakeMeter{}
	states := newMemStateStore()
	analyzer := NewAnalyzer(repos, backbone, 0)
	svc := NewService(repos, states, backbone, analyzer, meter, 15, 0)

	return &sessionFixture{svc: svc, repos: repos, backbone: backbone, meter: meter, states: states, business: business}
}

func (f *sessionFixture) startCall(t *testing.T, sid string) {
	t.Helper()
	response, err := f.svc.StartInbound(context.Background(), sid, "+447700900100", "+441134960000")
	require.NoError(t, err)
	require.Contains(t, response, "Gather")
}

func TestStartInboundDuplicateWebhook(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.svc.StartInbound(ctx, "CA200", "+447700900100", "+441134960000")
	require.NoError(t, err)
	assert.Contains(t, first, f.business.Greeting)

	replay, err := f.svc.StartInbound(ctx, "CA200", "+447700900100", "+441134960000")
	require.NoError(t, err)
	assert.Contains(t, replay, f.business.Greeting)

	count, err := f.repos.Call().CountInProgress(ctx, f.business.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStartInboundUnknownNumber(t *testing.T) {
	f := newSessionFixture(t)

	response, err := f.svc.StartInbound(context.Background(), "CA201", "+447700900100", "+449999999999")
	require.NoError(t, err)
	assert.Contains(t, response, "not configured")
}

func TestStartInboundSuspendedBusiness(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repos.Business().SetStatus(ctx, f.business.ID, domain.BusinessStatusSuspended))

	response, err := f.svc.StartInbound(ctx, "CA202", "+447700900100", "+441134960000")
	require.NoError(t, err)
	assert.Contains(t, response, "not configured")
}

func TestStartInboundAfterHours(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	// Closed every day of the week
	require.NoError(t, f.repos.Business().UpdateConfig(ctx, f.business.ID, map[string]interface{}{
		"business_hours": domain.JSONB{"sunday": map[string]interface{}{"closed": true}},
	}))

	response, err := f.svc.StartInbound(ctx, "CA203", "+447700900100", "+441134960000")
	require.NoError(t, err)
	assert.Contains(t, response, "Record")

	// The voicemail webhook lands the terminal status and the recording
	_, err = f.svc.HandleVoicemailComplete(ctx, "CA203", "https://api.example.com/rec/RE1.mp3", 42)
	require.NoError(t, err)

	c, err := f.repos.Call().GetByProviderSID(ctx, "CA203")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusVoicemail, c.Status)
	assert.Equal(t, "https://api.example.com/rec/RE1.mp3", c.RecordingURL)
}

func TestHandleTurnAppendsBothSpeakers(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.startCall(t, "CA204")

	response, err := f.svc.HandleTurn(ctx, f.business.ID, "CA204", 0, "What are your opening hours?")
	require.NoError(t, err)
	assert.Contains(t, response, "We're open nine to five.")

	c, err := f.repos.Call().GetByProviderSID(ctx, "CA204")
	require.NoError(t, err)
	require.Len(t, c.ConversationLog, 3)
	assert.Equal(t, SpeakerAgent, c.ConversationLog[0].Speaker)
	assert.Equal(t, SpeakerCaller, c.ConversationLog[1].Speaker)
	assert.Equal(t, "What are your opening hours?", c.ConversationLog[1].Text)
	assert.Equal(t, SpeakerAgent, c.ConversationLog[2].Speaker)
}

func TestHandleTurnEmptySpeechRepeats(t *testing.T) {
	f := newSessionFixture(t)
	f.startCall(t, "CA205")

	response, err := f.svc.HandleTurn(context.Background(), f.business.ID, "CA205", 0, "   ")
	require.NoError(t, err)
	assert.Contains(t, response, "repeat")
}

func TestHandleTurnTransferKeyword(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.startCall(t, "CA206")

	response, err := f.svc.HandleTurn(ctx, f.business.ID, "CA206", 0, "I want to speak to a real person")
	require.NoError(t, err)
	assert.Contains(t, response, "Dial")
	assert.Contains(t, response, f.business.TransferNumber)

	c, err := f.repos.Call().GetByProviderSID(ctx, "CA206")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusTransferred, c.Status)

	// The provider's completed callback must not overwrite transferred
	require.NoError(t, f.svc.HandleStatus(ctx, "CA206", "completed", 95))
	c, err = f.repos.Call().GetByProviderSID(ctx, "CA206")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusTransferred, c.Status)
}

func TestHandleTurnBackboneTimeoutTransfers(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.startCall(t, "CA207")
	f.backbone.replyErr = domain.ErrBackboneTimeout

	response, err := f.svc.HandleTurn(ctx, f.business.ID, "CA207", 0, "Can I book an appointment?")
	require.NoError(t, err)
	assert.Contains(t, response, "Dial")

	// The spoken fallback is on the record before the handoff
	c, err := f.repos.Call().GetByProviderSID(ctx, "CA207")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusTransferred, c.Status)
	last := c.ConversationLog[len(c.ConversationLog)-1]
	assert.Equal(t, SpeakerAgent, last.Speaker)
	assert.Contains(t, last.Text, "transfer")
}

func TestHandleTurnSingleFailureRetriesThenTransfers(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.startCall(t, "CA208")
	f.backbone.replyErr = errors.New("upstream 500")

	response, err := f.svc.HandleTurn(ctx, f.business.ID, "CA208", 0, "hello?")
	require.NoError(t, err)
	assert.Contains(t, response, "Gather")

	response, err = f.svc.HandleTurn(ctx, f.business.ID, "CA208", 1, "hello??")
	require.NoError(t, err)
	assert.Contains(t, response, "Dial")
}

func TestHandleTurnCapWindsDown(t *testing.T) {
	f := newSessionFixture(t)
	f.startCall(t, "CA209")

	response, err := f.svc.HandleTurn(context.Background(), f.business.ID, "CA209", 15, "and another thing")
	require.NoError(t, err)
	assert.Contains(t, response, "Hangup")
	assert.NotContains(t, response, "Gather")
}

func TestHandleStatusRedeliveryMetersOnce(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.startCall(t, "CA210")
	f.backbone.classify = &ai.Classification{
		Summary:    "Caller asked about opening hours.",
		Category:   "enquiry",
		Sentiment:  domain.SentimentPositive,
		Resolution: domain.ResolutionResolved,
	}
	_, err := f.svc.HandleTurn(ctx, f.business.ID, "CA210", 0, "What are your opening hours?")
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleStatus(ctx, "CA210", "completed", 75))
	require.NoError(t, f.svc.HandleStatus(ctx, "CA210", "completed", 75))

	c, err := f.repos.Call().GetByProviderSID(ctx, "CA210")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, c.Status)
	assert.Equal(t, 75, c.DurationSeconds)
	assert.Equal(t, "Caller asked about opening hours.", c.Summary)

	// Metering ran per delivery, but the coordinator's claim makes the
	// second pass a no-op; here we just see both invocations arrived.
	assert.Equal(t, 2, f.meter.calls)

	// State is dropped once the call ends
	_, err = f.states.Load(ctx, "CA210")
	assert.Equal(t, domain.ErrSessionExpired, err)
}

func TestHandleStatusIgnoresNonFinalStatus(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.startCall(t, "CA213")

	require.NoError(t, f.svc.HandleStatus(ctx, "CA213", "in-progress", 0))

	c, err := f.repos.Call().GetByProviderSID(ctx, "CA213")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusInProgress, c.Status)
	assert.False(t, c.Metered)
	assert.Equal(t, 0, f.meter.calls)

	// Session state stays alive for the next turn
	_, err = f.states.Load(ctx, "CA213")
	require.NoError(t, err)
}

func TestHandleStatusMissedCall(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.startCall(t, "CA211")

	require.NoError(t, f.svc.HandleStatus(ctx, "CA211", "no-answer", 0))

	c, err := f.repos.Call().GetByProviderSID(ctx, "CA211")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusMissed, c.Status)
}

func TestCallerHistorySeededAtStart(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	// Two completed calls from this caller already on file
	for _, sid := range []string{"CAH1", "CAH2"} {
		c := &domain.Call{
			BusinessID:      f.business.ID,
			ProviderCallSID: sid,
			CallerNumber:    "+447700900100",
			Status:          domain.CallStatusCompleted,
			Summary:         "previous call",
		}
		_, err := f.repos.Call().CreateIfAbsent(ctx, c)
		require.NoError(t, err)
	}

	f.startCall(t, "CA212")
	state, err := f.states.Load(ctx, "CA212")
	require.NoError(t, err)
	assert.Len(t, state.CallerHistory, 2)
}
