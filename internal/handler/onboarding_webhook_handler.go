package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	onboardingsvc "github.com/voicebothq/voicebot-service/internal/services/onboarding"
	"github.com/voicebothq/voicebot-service/pkg/logger"
)

// OnboardingWebhookHandler serves the outbound interview call's webhooks
type OnboardingWebhookHandler struct {
	onboarding *onboardingsvc.Service
}

func NewOnboardingWebhookHandler(onboarding *onboardingsvc.Service) *OnboardingWebhookHandler {
	return &OnboardingWebhookHandler{onboarding: onboarding}
}

// HandleStart answers the outbound call and asks the first question
func (h *OnboardingWebhookHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	businessID := r.URL.Query().Get("business_id")
	onboardingID := r.URL.Query().Get("onboarding_id")

	response, err := h.onboarding.FirstQuestion(r.Context(), businessID, onboardingID)
	writeTwiML(w, response, err)
}

// HandleAnswer records one gathered answer
func (h *OnboardingWebhookHandler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	businessID := r.URL.Query().Get("business_id")
	onboardingID := r.URL.Query().Get("onboarding_id")
	q, _ := strconv.Atoi(r.URL.Query().Get("q"))
	speech := r.FormValue("SpeechResult")

	response, err := h.onboarding.HandleAnswer(r.Context(), businessID, onboardingID, q, speech)
	writeTwiML(w, response, err)
}

// HandleNext is the no-input redirect: move on to question q
func (h *OnboardingWebhookHandler) HandleNext(w http.ResponseWriter, r *http.Request) {
	businessID := r.URL.Query().Get("business_id")
	onboardingID := r.URL.Query().Get("onboarding_id")
	q, _ := strconv.Atoi(r.URL.Query().Get("q"))

	response, err := h.onboarding.SkipToNext(r.Context(), businessID, onboardingID, q)
	writeTwiML(w, response, err)
}

// HandleStatus processes the interview call's terminal status callback
func (h *OnboardingWebhookHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	onboardingID := r.URL.Query().Get("onboarding_id")
	status := r.FormValue("CallStatus")

	if err := h.onboarding.HandleCallStatus(r.Context(), onboardingID, status); err != nil {
		logger.Base().Error("onboarding status processing failed",
			zap.String("onboarding_id", onboardingID),
			zap.String("status", status),
			zap.Error(err))
		http.Error(w, "status processing failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
