package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/internal/repository"
	"github.com/voicebothq/voicebot-service/pkg/ai"
	"github.com/voicebothq/voicebot-service/pkg/logger"
	"github.com/voicebothq/voicebot-service/pkg/redis"
	"github.com/voicebothq/voicebot-service/pkg/twilio"
)

// Dialer places the outbound interview call
type Dialer interface {
	PlaceOnboardingCall(ctx context.Context, to, businessID, onboardingID string) (string, error)
}

// Service orchestrates the voice onboarding interview: an outbound call
// that asks the owner a scripted set of questions, extracts structured
// fields from each answer, and builds the agent configuration at the end.
type Service struct {
	repos    repository.RepositoryManager
	backbone ai.Backbone
	dialer   Dialer
	cache    redis.RedisServiceInterface

	questionsTTL time.Duration
}

func NewService(repos repository.RepositoryManager, backbone ai.Backbone, dialer Dialer, cache redis.RedisServiceInterface) *Service {
	return &Service{
		repos:        repos,
		backbone:     backbone,
		dialer:       dialer,
		cache:        cache,
		questionsTTL: time.Hour,
	}
}

// Start creates an interview record, places the outbound call, and moves
// the business into onboarding.
func (s *Service) Start(ctx context.Context, businessID string) (*domain.OnboardingCall, error) {
	business, err := s.repos.Business().GetByID(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if business == nil {
		return nil, fmt.Errorf("business %s not found", businessID)
	}
	if business.OwnerPhone == "" {
		return nil, fmt.Errorf("business %s has no owner phone", businessID)
	}

	questions := s.interviewQuestions(ctx, business)

	record := &domain.OnboardingCall{
		ID:             uuid.New().String(),
		BusinessID:     business.ID,
		Status:         domain.OnboardingStatusPending,
		QuestionsAsked: domain.QuestionList(questions),
		ExtractedData:  domain.JSONB{},
	}
	if err := s.repos.Onboarding().Create(ctx, record); err != nil {
		return nil, err
	}
	s.cacheQuestions(ctx, record.ID, questions)

	sid, err := s.dialer.PlaceOnboardingCall(ctx, business.OwnerPhone, business.ID, record.ID)
	if err != nil {
		if _, ferr := s.repos.Onboarding().MarkFailed(ctx, record.ID); ferr != nil {
			logger.Base().Error("failed to mark onboarding failed",
				zap.String("onboarding_id", record.ID), zap.Error(ferr))
		}
		return nil, fmt.Errorf("failed to place onboarding call: %w", err)
	}
	if err := s.repos.Onboarding().SetProviderSID(ctx, record.ID, sid); err != nil {
		logger.Base().Error("failed to store onboarding call sid",
			zap.String("onboarding_id", record.ID), zap.Error(err))
	}

	if business.Status == domain.BusinessStatusPending {
		if err := s.repos.Business().SetStatus(ctx, business.ID, domain.BusinessStatusOnboarding); err != nil {
			logger.Base().Error("failed to move business into onboarding",
				zap.String("business_id", business.ID), zap.Error(err))
		}
	}

	logger.L().Infow("onboarding call placed",
		"onboarding_id", record.ID, "business_id", business.ID,
		"questions", len(questions), "call_sid", sid)
	record.ProviderCallSID = sid
	return record, nil
}

// FirstQuestion answers the outbound call's start webhook
func (s *Service) FirstQuestion(ctx context.Context, businessID, onboardingID string) (string, error) {
	questions, err := s.questions(ctx, onboardingID)
	if err != nil || len(questions) == 0 {
		logger.Base().Error("no interview script for onboarding call",
			zap.String("onboarding_id", onboardingID), zap.Error(err))
		return twilio.Fallback()
	}
	return twilio.OnboardingWelcome(questions[0].Question, businessID, onboardingID)
}

// HandleAnswer records one gathered answer and asks the next question.
// answeredIdx is the index of the question the speech answers. Replays of
// the same answer are harmless: field merging is last-write-wins and
// completion is guarded by the record's status.
func (s *Service) HandleAnswer(ctx context.Context, businessID, onboardingID string, answeredIdx int, speech string) (string, error) {
	questions, err := s.questions(ctx, onboardingID)
	if err != nil || answeredIdx < 0 || answeredIdx >= len(questions) {
		logger.Base().Error("answer for unknown onboarding question",
			zap.String("onboarding_id", onboardingID),
			zap.Int("question", answeredIdx), zap.Error(err))
		return twilio.Fallback()
	}
	question := questions[answeredIdx]

	speech = strings.TrimSpace(speech)
	if speech == "" {
		if question.Required {
			return twilio.OnboardingQuestion("Sorry, I didn't catch that. "+question.Question, businessID, onboardingID, answeredIdx)
		}
		return s.advance(ctx, businessID, onboardingID, questions, answeredIdx+1)
	}

	record, err := s.repos.Onboarding().GetByID(ctx, onboardingID)
	if err != nil || record == nil {
		return twilio.Fallback()
	}

	fields := s.extractFields(ctx, question, speech)
	merged := domain.JSONB{}
	for k, v := range record.ExtractedData {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	if err := s.repos.Onboarding().SaveExtractedData(ctx, onboardingID, merged); err != nil {
		logger.Base().Error("failed to save interview answers",
			zap.String("onboarding_id", onboardingID), zap.Error(err))
	}

	return s.advance(ctx, businessID, onboardingID, questions, answeredIdx+1)
}

// SkipToNext handles the no-input redirect: ask question nextIdx directly
func (s *Service) SkipToNext(ctx context.Context, businessID, onboardingID string, nextIdx int) (string, error) {
	questions, err := s.questions(ctx, onboardingID)
	if err != nil {
		return twilio.Fallback()
	}
	return s.advance(ctx, businessID, onboardingID, questions, nextIdx)
}

// HandleCallStatus marks an interview failed when the outbound call never
// completed the script.
func (s *Service) HandleCallStatus(ctx context.Context, onboardingID, providerStatus string) error {
	switch providerStatus {
	case "busy", "no-answer", "failed", "canceled":
		marked, err := s.repos.Onboarding().MarkFailed(ctx, onboardingID)
		if err != nil {
			return err
		}
		if marked {
			logger.L().Warnw("onboarding call failed",
				"onboarding_id", onboardingID, "status", providerStatus)
		}
	case "completed":
		// A hangup mid-script also lands here; an interview that never
		// reached the last answer stays incomplete and is marked failed.
		record, err := s.repos.Onboarding().GetByID(ctx, onboardingID)
		if err != nil || record == nil {
			return err
		}
		if !record.Status.Terminal() {
			if _, err := s.repos.Onboarding().MarkFailed(ctx, onboardingID); err != nil {
				return err
			}
			logger.L().Warnw("onboarding call hung up mid-interview",
				"onboarding_id", onboardingID)
		}
	}
	return nil
}

func (s *Service) advance(ctx context.Context, businessID, onboardingID string, questions []domain.OnboardingQuestion, nextIdx int) (string, error) {
	if nextIdx < len(questions) {
		return twilio.OnboardingQuestion(questions[nextIdx].Question, businessID, onboardingID, nextIdx)
	}
	return s.complete(ctx, businessID, onboardingID)
}

// complete builds the agent configuration from the collected answers and
// hands the business to review.
func (s *Service) complete(ctx context.Context, businessID, onboardingID string) (string, error) {
	record, err := s.repos.Onboarding().GetByID(ctx, onboardingID)
	if err != nil || record == nil {
		return twilio.Fallback()
	}
	if record.Status.Terminal() {
		return twilio.OnboardingComplete()
	}

	business, err := s.repos.Business().GetByID(ctx, businessID)
	if err != nil || business == nil {
		return twilio.Fallback()
	}

	updates := s.buildConfig(ctx, business, record.ExtractedData)
	if err := s.repos.Business().UpdateConfig(ctx, businessID, updates); err != nil {
		logger.Base().Error("failed to apply agent config",
			zap.String("business_id", businessID), zap.Error(err))
		return twilio.Fallback()
	}

	completed, err := s.repos.Onboarding().MarkCompleted(ctx, onboardingID, record.ExtractedData)
	if err != nil {
		logger.Base().Error("failed to complete onboarding",
			zap.String("onboarding_id", onboardingID), zap.Error(err))
		return twilio.Fallback()
	}
	if completed {
		if err := s.repos.Business().SetStatus(ctx, businessID, domain.BusinessStatusReadyForReview); err != nil {
			logger.Base().Error("failed to move business to review",
				zap.String("business_id", businessID), zap.Error(err))
		}
		logger.L().Infow("onboarding completed",
			"onboarding_id", onboardingID, "business_id", businessID)
	}
	return twilio.OnboardingComplete()
}

// interviewQuestions asks the backbone for a tailored script and falls back
// to the standard one.
func (s *Service) interviewQuestions(ctx context.Context, business *domain.Business) []domain.OnboardingQuestion {
	questions, err := s.backbone.OnboardingQuestions(ctx, business.Name, business.BusinessType)
	if err != nil {
		logger.L().Warnw("using default interview script",
			"business_id", business.ID, "error", err)
		return ai.DefaultOnboardingQuestions()
	}
	return questions
}

// extractFields degrades to the raw answer under the question's field when
// the backbone cannot structure it.
func (s *Service) extractFields(ctx context.Context, question domain.OnboardingQuestion, speech string) map[string]interface{} {
	fields, err := s.backbone.ExtractOnboardingFields(ctx, question, speech)
	if err != nil || len(fields) == 0 {
		logger.L().Warnw("storing raw interview answer",
			"field", question.FieldName, "error", err)
		return map[string]interface{}{question.FieldName: speech}
	}
	return fields
}

// buildConfig turns interview answers into business config updates
func (s *Service) buildConfig(ctx context.Context, business *domain.Business, answers domain.JSONB) map[string]interface{} {
	cfg, err := s.backbone.BuildAgentConfig(ctx, business.Name, business.BusinessType, answers)
	if err != nil {
		logger.L().Warnw("agent config build failed, applying raw answers",
			"business_id", business.ID, "error", err)
		updates := map[string]interface{}{"config": answers}
		if v, ok := answers["greeting"].(string); ok && v != "" {
			updates["greeting"] = v
		}
		if v, ok := answers["transfer_number"].(string); ok && v != "" {
			updates["transfer_number"] = v
		}
		if v, ok := answers["after_hours_message"].(string); ok && v != "" {
			updates["after_hours_message"] = v
		}
		if v, ok := answers["restricted_info"].(string); ok && v != "" {
			updates["restricted_info"] = v
		}
		return updates
	}

	updates := map[string]interface{}{
		"greeting":            cfg.Greeting,
		"agent_personality":   cfg.AgentPersonality,
		"after_hours_message": cfg.AfterHoursMessage,
		"transfer_number":     cfg.TransferNumber,
		"restricted_info":     cfg.RestrictedInfo,
		"faq":                 cfg.FAQ,
		"config": domain.JSONB{
			"services":             cfg.Services,
			"special_instructions": cfg.SpecialInstructions,
			"interview_answers":    answers,
		},
	}
	if len(cfg.BusinessHours) > 0 {
		updates["business_hours"] = domain.JSONB(cfg.BusinessHours)
	}
	return updates
}

// questions loads the interview script, preferring the hot cache
func (s *Service) questions(ctx context.Context, onboardingID string) ([]domain.OnboardingQuestion, error) {
	if s.cache != nil {
		key := s.cache.GenerateKey(redis.ONBOARDING_QUESTIONS, onboardingID)
		if val, err := s.cache.GetValue(ctx, key); err == nil {
			var questions []domain.OnboardingQuestion
			if jerr := json.Unmarshal([]byte(val), &questions); jerr == nil && len(questions) > 0 {
				return questions, nil
			}
		}
	}

	record, err := s.repos.Onboarding().GetByID(ctx, onboardingID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("onboarding call %s not found", onboardingID)
	}
	questions := []domain.OnboardingQuestion(record.QuestionsAsked)
	s.cacheQuestions(ctx, onboardingID, questions)
	return questions, nil
}

func (s *Service) cacheQuestions(ctx context.Context, onboardingID string, questions []domain.OnboardingQuestion) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(questions)
	if err != nil {
		return
	}
	key := s.cache.GenerateKey(redis.ONBOARDING_QUESTIONS, onboardingID)
	if err := s.cache.SetValue(ctx, key, string(payload), s.questionsTTL); err != nil {
		logger.Base().Warn("failed to cache interview script",
			zap.String("onboarding_id", onboardingID), zap.Error(err))
	}
}
