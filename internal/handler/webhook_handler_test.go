package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/internal/prompts"
	"github.com/voicebothq/voicebot-service/internal/repository"
	callsvc "github.com/voicebothq/voicebot-service/internal/services/call"
	meteringsvc "github.com/voicebothq/voicebot-service/internal/services/metering"
	"github.com/voicebothq/voicebot-service/pkg/ai"
)

type stubBackbone struct{}

func (stubBackbone) GenerateReply(ctx context.Context, rc *prompts.ReplyContext) (string, error) {
	return "We're open nine to five.", nil
}

func (stubBackbone) ClassifyCall(ctx context.Context, transcript, businessName, businessType string) (*ai.Classification, error) {
	return &ai.Classification{
		Summary:    "Caller asked about opening hours.",
		Category:   "enquiry",
		Sentiment:  domain.SentimentPositive,
		Resolution: domain.ResolutionResolved,
	}, nil
}

func (stubBackbone) ExtractOnboardingFields(ctx context.Context, q domain.OnboardingQuestion, answer string) (map[string]interface{}, error) {
	return map[string]interface{}{q.FieldName: answer}, nil
}

func (stubBackbone) BuildAgentConfig(ctx context.Context, name, businessType string, answers map[string]interface{}) (*ai.AgentConfig, error) {
	return &ai.AgentConfig{}, nil
}

func (stubBackbone) OnboardingQuestions(ctx context.Context, name, businessType string) ([]domain.OnboardingQuestion, error) {
	return ai.DefaultOnboardingQuestions(), nil
}

type silentSMS struct{}

func (silentSMS) SendSMS(ctx context.Context, to, body string) error { return nil }

func newWebhookFixture(t *testing.T) (*WebhookHandler, *domain.Business) {
	t.Helper()
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
		Status:     domain.BusinessStatusActive,
		OwnerPhone: "+447700900001",
		Greeting:   "Thanks for calling Riverside Dental.",
	}
	require.NoError(t, repos.Business().Create(ctx, business))
	phone := &domain.PhoneNumber{Number: "+441134960000", Status: domain.PhoneNumberStatusAvailable}
	require.NoError(t, repos.PhoneNumber().Create(ctx, phone))
	require.NoError(t, repos.PhoneNumber().Assign(ctx, phone.ID, business.ID))

	backbone := stubBackbone{}
	analyzer := callsvc.NewAnalyzer(repos, backbone, 0)
	metering := meteringsvc.NewService(repos, silentSMS{})
	service := callsvc.NewService(repos, callsvc.NoopStateStore{}, backbone, analyzer, metering, 15, 0)
	return NewWebhookHandler(service, nil), business
}

func postForm(t *testing.T, h http.HandlerFunc, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestIncomingCallRespondsWithTwiML(t *testing.T) {
	h, _ := newWebhookFixture(t)

	rec := postForm(t, h.HandleIncomingCall, "/webhook/incoming-call", url.Values{
		"CallSid": {"CA400"},
		"From":    {"+447700900100"},
		"To":      {"+441134960000"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Thanks for calling Riverside Dental.")
}

func TestIncomingCallUnknownNumberStillTwiML(t *testing.T) {
	h, _ := newWebhookFixture(t)

	rec := postForm(t, h.HandleIncomingCall, "/webhook/incoming-call", url.Values{
		"CallSid": {"CA401"},
		"From":    {"+447700900100"},
		"To":      {"+440000000000"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Response>")
}

func TestGatherResponseFlow(t *testing.T) {
	h, business := newWebhookFixture(t)

	postForm(t, h.HandleIncomingCall, "/webhook/incoming-call", url.Values{
		"CallSid": {"CA402"},
		"From":    {"+447700900100"},
		"To":      {"+441134960000"},
	})

	rec := postForm(t, h.HandleGatherResponse,
		"/webhook/gather-response?business_id="+business.ID+"&call_sid=CA402&turn=0",
		url.Values{"SpeechResult": {"What are your opening hours?"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "We're open nine to five.")
	assert.Contains(t, rec.Body.String(), "turn=1")
}

func TestCallStatusAcknowledges(t *testing.T) {
	h, _ := newWebhookFixture(t)

	postForm(t, h.HandleIncomingCall, "/webhook/incoming-call", url.Values{
		"CallSid": {"CA403"},
		"From":    {"+447700900100"},
		"To":      {"+441134960000"},
	})

	rec := postForm(t, h.HandleCallStatus, "/webhook/call-status", url.Values{
		"CallSid":      {"CA403"},
		"CallStatus":   {"completed"},
		"CallDuration": {"63"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallStatusUnknownCallStillAcknowledges(t *testing.T) {
	h, _ := newWebhookFixture(t)

	rec := postForm(t, h.HandleCallStatus, "/webhook/call-status", url.Values{
		"CallSid":    {"CA404"},
		"CallStatus": {"completed"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
