package handler

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/voicebothq/voicebot-service/internal/config"
	"github.com/voicebothq/voicebot-service/internal/repository"
	callsvc "github.com/voicebothq/voicebot-service/internal/services/call"
	meteringsvc "github.com/voicebothq/voicebot-service/internal/services/metering"
	onboardingsvc "github.com/voicebothq/voicebot-service/internal/services/onboarding"
	"github.com/voicebothq/voicebot-service/pkg/ai"
	"github.com/voicebothq/voicebot-service/pkg/logger"
	"github.com/voicebothq/voicebot-service/pkg/redis"
	"github.com/voicebothq/voicebot-service/pkg/twilio"
)

// HandlerManager manages all handlers and their initialization
type HandlerManager struct {
	config      *config.Config
	repoManager repository.RepositoryManager

	webhookHandler    *WebhookHandler
	onboardingHandler *OnboardingWebhookHandler
	usageHandler      *UsageHandler
	adminHandler      *AdminHandler
}

// NewHandlerManager creates and initializes all handlers and services
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	// Initialize database connection
	repoManager, err := repository.NewRepositoryManager()
	if err != nil {
		logger.Base().Error("failed to connect to database", zap.Error(err))
		return nil, err
	}

	// Initialize Redis service for conversation state
	redisHost := os.Getenv("REDIS_HOST")
	if redisHost == "" {
		redisHost = "localhost"
	}
	redisPort := os.Getenv("REDIS_PORT")
	if redisPort == "" {
		redisPort = "6379"
	}
	redisConfig := &redis.RedisConfig{
		Host:     redisHost,
		Port:     redisPort,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}
	redisSvc, err := redis.NewRedisService(redisConfig)
	if err != nil {
		logger.Base().Warn("failed to initialize redis service, conversation state degraded", zap.Error(err))
		redisSvc = nil
	}

	telephony := twilio.NewService(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, cfg.AppBaseURL)

	backbone := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.BackboneTimeout)
	if cfg.GeminiBaseURL != "" {
		backbone.BaseURL = cfg.GeminiBaseURL + "/v1beta"
	}

	var states callsvc.StateStore = callsvc.NoopStateStore{}
	var cache redis.RedisServiceInterface
	if redisSvc != nil {
		states = callsvc.NewRedisStateStore(redisSvc, cfg.ConversationTTL)
		cache = redisSvc
	}

	analyzer := callsvc.NewAnalyzer(repoManager, backbone, 0)
	metering := meteringsvc.NewService(repoManager, telephony)
	callService := callsvc.NewService(repoManager, states, backbone, analyzer, metering, cfg.MaxTurns, cfg.BackboneTimeout)
	onboardingService := onboardingsvc.NewService(repoManager, backbone, telephony, cache)

	return &HandlerManager{
		config:            cfg,
		repoManager:       repoManager,
		webhookHandler:    NewWebhookHandler(callService, telephony),
		onboardingHandler: NewOnboardingWebhookHandler(onboardingService),
		usageHandler:      NewUsageHandler(repoManager),
		adminHandler:      NewAdminHandler(repoManager, onboardingService, telephony),
	}, nil
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(CORSMiddleware)
	router.Use(LoggingMiddleware)

	router.HandleFunc("/health", hm.handleHealth).Methods("GET")

	hm.SetupWebhookRoutes(router)
	hm.SetupAPIRoutes(router)

	logger.Base().Info("all application routes registered")
}

// SetupWebhookRoutes registers the telephony provider's webhook surface.
// These are form-encoded and rate limited, not authenticated by API key.
func (hm *HandlerManager) SetupWebhookRoutes(router *mux.Router) {
	webhooks := router.PathPrefix("/webhook").Subrouter()
	webhooks.Use(RateLimitMiddleware(hm.config.WebhookRateLimit, hm.config.WebhookBurst))

	webhooks.HandleFunc("/incoming-call", hm.webhookHandler.HandleIncomingCall).Methods("POST")
	webhooks.HandleFunc("/gather-response", hm.webhookHandler.HandleGatherResponse).Methods("POST")
	webhooks.HandleFunc("/transfer", hm.webhookHandler.HandleTransferRedirect).Methods("POST")
	webhooks.HandleFunc("/call-status", hm.webhookHandler.HandleCallStatus).Methods("POST")
	webhooks.HandleFunc("/voicemail-complete", hm.webhookHandler.HandleVoicemailComplete).Methods("POST")
	webhooks.HandleFunc("/recording-status", hm.webhookHandler.HandleRecordingStatus).Methods("POST")
	webhooks.HandleFunc("/call-fallback", hm.webhookHandler.HandleCallFallback).Methods("POST")
	webhooks.HandleFunc("/incoming-sms", hm.webhookHandler.HandleIncomingSMS).Methods("POST")

	webhooks.HandleFunc("/onboarding-start", hm.onboardingHandler.HandleStart).Methods("POST")
	webhooks.HandleFunc("/onboarding-answer", hm.onboardingHandler.HandleAnswer).Methods("POST")
	webhooks.HandleFunc("/onboarding-next", hm.onboardingHandler.HandleNext).Methods("POST")
	webhooks.HandleFunc("/onboarding-status", hm.onboardingHandler.HandleStatus).Methods("POST")

	logger.Base().Info("webhook routes registered")
}

// SetupAPIRoutes registers the dashboard management API
func (hm *HandlerManager) SetupAPIRoutes(router *mux.Router) {
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(ValidationMiddleware)
	apiRouter.Use(APIKeyMiddleware(hm.config.DashboardAPISecret))

	apiRouter.HandleFunc("/businesses", hm.adminHandler.CreateBusiness).Methods("POST")
	apiRouter.HandleFunc("/businesses/{id}", hm.adminHandler.GetBusiness).Methods("GET")
	apiRouter.HandleFunc("/businesses/{id}/activate", hm.adminHandler.ActivateBusiness).Methods("POST")
	apiRouter.HandleFunc("/businesses/{id}/suspend", hm.adminHandler.SuspendBusiness).Methods("POST")
	apiRouter.HandleFunc("/businesses/{id}/usage", hm.usageHandler.GetUsage).Methods("GET")
	apiRouter.HandleFunc("/businesses/{id}/calls", hm.adminHandler.ListCalls).Methods("GET")
	apiRouter.HandleFunc("/businesses/{id}/tickets", hm.adminHandler.ListTickets).Methods("GET")
	apiRouter.HandleFunc("/businesses/{id}/tickets/{ticketId}", hm.adminHandler.UpdateTicket).Methods("PUT")
	apiRouter.HandleFunc("/businesses/{id}/onboarding", hm.adminHandler.StartOnboarding).Methods("POST")
	apiRouter.HandleFunc("/businesses/{id}/onboarding", hm.adminHandler.ListOnboarding).Methods("GET")
	apiRouter.HandleFunc("/businesses/{id}/knowledge-base", hm.adminHandler.AddKnowledgeBase).Methods("POST")
	apiRouter.HandleFunc("/businesses/{id}/knowledge-base/{kbId}", hm.adminHandler.RemoveKnowledgeBase).Methods("DELETE")
	apiRouter.HandleFunc("/phone-numbers", hm.adminHandler.CreateNumber).Methods("POST")
	apiRouter.HandleFunc("/phone-numbers/{id}/assign", hm.adminHandler.AssignNumber).Methods("POST")
	apiRouter.HandleFunc("/phone-numbers/{id}/release", hm.adminHandler.ReleaseNumber).Methods("POST")

	logger.Base().Info("api routes registered")
}

func (hm *HandlerManager) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := hm.repoManager.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Close releases held resources
func (hm *HandlerManager) Close() error {
	return hm.repoManager.Close()
}
