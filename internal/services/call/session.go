package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/internal/prompts"
	"github.com/voicebothq/voicebot-service/internal/repository"
	"github.com/voicebothq/voicebot-service/pkg/ai"
	"github.com/voicebothq/voicebot-service/pkg/logger"
	"github.com/voicebothq/voicebot-service/pkg/twilio"
)

const (
	SpeakerCaller = "caller"
	SpeakerAgent  = "agent"

	// callerHistoryLimit bounds how many past calls seed a session
	callerHistoryLimit = 2

	// transferMarker lets the backbone request a handoff inline
	transferMarker = "[TRANSFER]"
)

// transferKeywords trigger an immediate handoff when spoken by the caller
var transferKeywords = []string{"transfer", "speak to someone", "human", "real person", "manager"}

// Meter hands a finished call to the metering coordinator
type Meter interface {
	MeterCompletedCall(ctx context.Context, c *domain.Call, business *domain.Business) error
}

// Service drives inbound call sessions: one webhook per caller turn, all
// session context loaded from the shared state store so any instance can
// serve any turn.
type Service struct {
	repos    repository.RepositoryManager
	states   StateStore
	backbone ai.Backbone
	analyzer *Analyzer
	meter    Meter

	maxTurns        int
	backboneTimeout time.Duration
}

func NewService(repos repository.RepositoryManager, states StateStore, backbone ai.Backbone, analyzer *Analyzer, meter Meter, maxTurns int, backboneTimeout time.Duration) *Service {
	if maxTurns <= 0 {
		maxTurns = 15
	}
	if backboneTimeout <= 0 {
		backboneTimeout = 8 * time.Second
	}
	return &Service{
		repos:           repos,
		states:          states,
		backbone:        backbone,
		analyzer:        analyzer,
		meter:           meter,
		maxTurns:        maxTurns,
		backboneTimeout: backboneTimeout,
	}
}

// StartInbound handles the call-start webhook. It is idempotent: a replayed
// start for a known call SID re-serves the greeting without a second record.
func (s *Service) StartInbound(ctx context.Context, callSID, from, to string) (string, error) {
	business, phone, err := s.repos.Business().GetByNumber(ctx, to)
	if err != nil {
		logger.Base().Error("failed to resolve called number",
			zap.String("called_number", to), zap.Error(err))
		return twilio.Fallback()
	}
	if business == nil || business.Status == domain.BusinessStatusSuspended ||
		business.Status == domain.BusinessStatusCancelled {
		return twilio.Unconfigured()
	}

	if !business.WithinBusinessHours(time.Now()) {
		created, err := s.repos.Call().CreateIfAbsent(ctx, &domain.Call{
			ID:              uuid.New().String(),
			BusinessID:      business.ID,
			ProviderCallSID: callSID,
			CallerNumber:    from,
			CalledNumber:    to,
			Status:          domain.CallStatusInProgress,
		})
		if err != nil {
			logger.Base().Error("failed to record after-hours call", zap.Error(err))
		} else if created {
			logger.L().Infow("after-hours call", "call_sid", callSID, "business_id", business.ID)
		}
		message := business.AfterHoursMessage
		if message == "" {
			message = "Thank you for calling. We're currently closed. Please leave a message after the tone and we'll get back to you."
		}
		return twilio.AfterHours(message)
	}

	created, err := s.repos.Call().CreateIfAbsent(ctx, &domain.Call{
		ID:              uuid.New().String(),
		BusinessID:      business.ID,
		ProviderCallSID: callSID,
		CallerNumber:    from,
		CalledNumber:    to,
		Status:          domain.CallStatusInProgress,
	})
	if err != nil {
		logger.Base().Error("failed to create call record",
			zap.String("call_sid", callSID), zap.Error(err))
		return twilio.Fallback()
	}

	greeting := business.Greeting
	personality := business.AgentPersonality
	if phone != nil {
		if phone.Greeting != "" {
			greeting = phone.Greeting
		}
		if phone.AgentPersonality != "" {
			personality = phone.AgentPersonality
		}
	}
	if greeting == "" {
		greeting = "Hello, thank you for calling " + business.Name + ". How can I help you today?"
	}

	if created {
		// Caller history is fixed at call start; calls completing while
		// this one is live do not alter the session's view.
		history, err := s.repos.Call().CallerHistory(ctx, business.ID, from, callerHistoryLimit)
		if err != nil {
			logger.Base().Error("caller history lookup failed",
				zap.String("call_sid", callSID), zap.Error(err))
			history = nil
		}

		state := &ConversationState{
			BusinessID:    business.ID,
			BusinessName:  business.Name,
			CallerNumber:  from,
			Personality:   personality,
			CallerHistory: history,
			StartedAt:     time.Now().UTC(),
		}
		state.AddTurn(SpeakerAgent, greeting)
		if err := s.states.Save(ctx, callSID, state); err != nil {
			logger.Base().Error("failed to save conversation state",
				zap.String("call_sid", callSID), zap.Error(err))
		}
		logger.L().Infow("call started",
			"call_sid", callSID, "business_id", business.ID,
			"returning_caller", len(history) > 0)
	} else {
		// Redelivered start webhook; re-answer with the same greeting.
		logger.L().Infow("replayed call start",
			"call_sid", callSID, "reason", domain.ErrDuplicateEvent)
	}

	return twilio.GreetAndGather(greeting, business.ID, callSID)
}

// HandleTurn handles one gathered caller utterance
func (s *Service) HandleTurn(ctx context.Context, businessID, callSID string, turn int, speech string) (string, error) {
	business, err := s.repos.Business().GetByID(ctx, businessID)
	if err != nil || business == nil {
		logger.Base().Error("turn for unknown business",
			zap.String("business_id", businessID), zap.Error(err))
		return twilio.Fallback()
	}

	state, err := s.states.Load(ctx, callSID)
	if errors.Is(err, domain.ErrSessionExpired) {
		state, err = s.rebuildState(ctx, business, callSID)
	}
	if err != nil {
		logger.Base().Error("failed to load conversation state",
			zap.String("call_sid", callSID), zap.Error(err))
		return s.transfer(ctx, business, callSID, nil, prompts.FallbackReply)
	}

	speech = strings.TrimSpace(speech)
	if speech == "" {
		return twilio.RepeatPrompt(businessID, callSID, turn)
	}

	state.AddTurn(SpeakerCaller, speech)

	if wantsTransfer(speech) {
		return s.transfer(ctx, business, callSID, state,
			"Of course, let me transfer you to someone who can help. One moment please.")
	}

	if turn >= s.maxTurns {
		goodbye := "Thank you for calling " + business.Name + ". Have a great day, goodbye!"
		state.AddTurn(SpeakerAgent, goodbye)
		s.persist(ctx, callSID, state)
		return twilio.SayHangup(goodbye)
	}

	reply, err := s.generateReply(ctx, business, state, speech)
	if err != nil {
		state.BackboneFailures++
		logger.Base().Error("backbone reply failed",
			zap.String("call_sid", callSID),
			zap.Int("failures", state.BackboneFailures), zap.Error(err))
		if errors.Is(err, domain.ErrBackboneTimeout) || state.BackboneFailures >= 2 {
			return s.transfer(ctx, business, callSID, state, prompts.FallbackReply)
		}
		retry := "I'm sorry, I didn't quite catch that. Could you say it again?"
		state.AddTurn(SpeakerAgent, retry)
		s.persist(ctx, callSID, state)
		return twilio.RespondAndGather(retry, businessID, callSID, turn+1)
	}
	state.BackboneFailures = 0

	if strings.Contains(reply, transferMarker) {
		spoken := strings.TrimSpace(strings.ReplaceAll(reply, transferMarker, ""))
		if spoken == "" {
			spoken = "Let me transfer you to someone who can help."
		}
		return s.transfer(ctx, business, callSID, state, spoken)
	}

	state.AddTurn(SpeakerAgent, reply)
	s.persist(ctx, callSID, state)
	return twilio.RespondAndGather(reply, businessID, callSID, turn+1)
}

// HandleStatus handles the provider's call-status callback. Terminal
// side effects run here; any failure returns an error so the provider
// retries the callback, which is the retry mechanism.
func (s *Service) HandleStatus(ctx context.Context, callSID, providerStatus string, durationSeconds int) error {
	c, err := s.repos.Call().GetByProviderSID(ctx, callSID)
	if err != nil {
		return err
	}
	if c == nil {
		logger.L().Warnw("status for unknown call", "call_sid", callSID, "status", providerStatus)
		return nil
	}

	status := mapProviderStatus(providerStatus)
	if status == "" {
		logger.L().Debugw("ignoring non-final status",
			"call_sid", callSID, "status", providerStatus)
		return nil
	}

	if durationSeconds > 0 {
		if err := s.repos.Call().SetDuration(ctx, callSID, durationSeconds); err != nil {
			return err
		}
		c.DurationSeconds = durationSeconds
	}

	marked, err := s.repos.Call().MarkTerminal(ctx, callSID, status)
	if err != nil {
		return err
	}
	if marked {
		logger.L().Infow("call ended",
			"call_sid", callSID, "status", providerStatus,
			"duration_seconds", durationSeconds)
	}

	if err := s.states.Delete(ctx, callSID); err != nil {
		logger.Base().Warn("failed to drop conversation state",
			zap.String("call_sid", callSID), zap.Error(err))
	}

	// Reload so analysis and metering see the terminal row
	c, err = s.repos.Call().GetByProviderSID(ctx, callSID)
	if err != nil || c == nil {
		return err
	}

	business, err := s.repos.Business().GetByID(ctx, c.BusinessID)
	if err != nil {
		return err
	}

	if s.analyzer != nil {
		if err := s.analyzer.AnalyzeCompletedCall(ctx, c, business); err != nil {
			return err
		}
	}
	if s.meter != nil && business != nil {
		if err := s.meter.MeterCompletedCall(ctx, c, business); err != nil {
			return err
		}
	}
	return nil
}

// HandleVoicemailComplete stores the recording left after hours
func (s *Service) HandleVoicemailComplete(ctx context.Context, callSID, recordingURL string, durationSeconds int) (string, error) {
	if recordingURL != "" {
		if err := s.repos.Call().SetRecordingURL(ctx, callSID, recordingURL); err != nil {
			logger.Base().Error("failed to store recording url",
				zap.String("call_sid", callSID), zap.Error(err))
		}
	}
	if durationSeconds > 0 {
		if err := s.repos.Call().SetDuration(ctx, callSID, durationSeconds); err != nil {
			logger.Base().Error("failed to store voicemail duration",
				zap.String("call_sid", callSID), zap.Error(err))
		}
	}
	if _, err := s.repos.Call().MarkTerminal(ctx, callSID, domain.CallStatusVoicemail); err != nil {
		logger.Base().Error("failed to mark voicemail",
			zap.String("call_sid", callSID), zap.Error(err))
	}
	return twilio.VoicemailThanks()
}

// HandleRecordingStatus stores the final recording URL once the provider
// has finished transcoding. Redelivered callbacks just rewrite the same URL.
func (s *Service) HandleRecordingStatus(ctx context.Context, callSID, recordingURL string) error {
	if recordingURL == "" {
		return nil
	}
	if err := s.repos.Call().SetRecordingURL(ctx, callSID, recordingURL); err != nil {
		return fmt.Errorf("failed to store recording url: %w", err)
	}
	return nil
}

// HandleFallback is the provider's last-resort error webhook
func (s *Service) HandleFallback(ctx context.Context, callSID string) (string, error) {
	logger.L().Warnw("provider fallback invoked", "call_sid", callSID)
	return twilio.Fallback()
}

func (s *Service) generateReply(ctx context.Context, business *domain.Business, state *ConversationState, speech string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.backboneTimeout)
	defer cancel()

	kb, err := s.repos.KnowledgeBase().ListActive(ctx, business.ID)
	if err != nil {
		logger.Base().Warn("knowledge base lookup failed",
			zap.String("business_id", business.ID), zap.Error(err))
		kb = nil
	}

	return s.backbone.GenerateReply(ctx, &prompts.ReplyContext{
		Business:      business,
		Personality:   state.Personality,
		CallerNumber:  state.CallerNumber,
		CallerHistory: state.CallerHistory,
		Turns:         state.Turns,
		Utterance:     speech,
		KnowledgeBase: kb,
	})
}

// transfer winds the session down onto a human. The conversation log is
// persisted before the handoff TwiML is returned.
func (s *Service) transfer(ctx context.Context, business *domain.Business, callSID string, state *ConversationState, message string) (string, error) {
	if state != nil {
		state.AddTurn(SpeakerAgent, message)
		s.persist(ctx, callSID, state)
	}

	if business.TransferNumber == "" {
		logger.L().Warnw("transfer requested but no transfer number",
			"call_sid", callSID, "business_id", business.ID)
		return twilio.SayHangup("I'm sorry, no one is available to take your call right now. Please call back later. Goodbye.")
	}

	if _, err := s.repos.Call().MarkTerminal(ctx, callSID, domain.CallStatusTransferred); err != nil {
		logger.Base().Error("failed to mark call transferred",
			zap.String("call_sid", callSID), zap.Error(err))
	}
	return twilio.Transfer(business.TransferNumber, message)
}

// persist writes the running transcript through to the durable record
func (s *Service) persist(ctx context.Context, callSID string, state *ConversationState) {
	if err := s.repos.Call().UpdateConversationLog(ctx, callSID, domain.ConversationLog(state.Turns)); err != nil {
		logger.Base().Error("failed to persist conversation log",
			zap.String("call_sid", callSID), zap.Error(err))
	}
	if err := s.states.Save(ctx, callSID, state); err != nil {
		logger.Base().Error("failed to save conversation state",
			zap.String("call_sid", callSID), zap.Error(err))
	}
}

// rebuildState reconstructs a usable session from the durable record when
// the hot state has expired mid-call. Caller history is not re-fetched.
func (s *Service) rebuildState(ctx context.Context, business *domain.Business, callSID string) (*ConversationState, error) {
	c, err := s.repos.Call().GetByProviderSID(ctx, callSID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrSessionExpired
	}
	logger.L().Warnw("conversation state expired mid-call, rebuilding",
		"call_sid", callSID)
	return &ConversationState{
		BusinessID:   business.ID,
		BusinessName: business.Name,
		CallerNumber: c.CallerNumber,
		Personality:  business.AgentPersonality,
		Turns:        []domain.ConversationEntry(c.ConversationLog),
		StartedAt:    c.CreatedAt,
	}, nil
}

func wantsTransfer(speech string) bool {
	lowered := strings.ToLower(speech)
	for _, kw := range transferKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// mapProviderStatus maps a provider status event to a terminal call status.
// Non-final statuses map to "" and are ignored.
func mapProviderStatus(providerStatus string) domain.CallStatus {
	switch providerStatus {
	case "completed":
		return domain.CallStatusCompleted
	case "busy", "no-answer", "failed", "canceled":
		return domain.CallStatusMissed
	default:
		return ""
	}
}
