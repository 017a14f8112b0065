package twilio

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/voicebothq/voicebot-service/pkg/logger"
	"go.uber.org/zap"
)

// Service wraps the Twilio REST client for the side-effecting telephony
// operations the call engine triggers. All calls are fire-and-forget from
// the state machine's viewpoint; failures are logged, never fatal to a
// webhook response.
type Service struct {
	client     *twilio.RestClient
	accountSID string
	fromNumber string
	baseURL    string
	enabled    bool
}

// NewService creates a new Twilio service. With empty credentials the
// service is disabled and every operation becomes a logged no-op, which
// keeps local development working without an account.
func NewService(accountSID, authToken, fromNumber, baseURL string) *Service {
	if accountSID == "" || authToken == "" {
		logger.Base().Warn("Twilio credentials not provided, telephony side effects disabled")
		return &Service{enabled: false, baseURL: baseURL}
	}
	return &Service{
		client:     twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		accountSID: accountSID,
		fromNumber: fromNumber,
		baseURL:    baseURL,
		enabled:    true,
	}
}

// SendSMS sends a text message, used for usage threshold alerts
func (s *Service) SendSMS(ctx context.Context, to, body string) error {
	if !s.enabled {
		logger.Base().Info("sms skipped, telephony disabled", zap.String("to", to))
		return nil
	}
	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.fromNumber)
	params.SetBody(body)
	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	return nil
}

// RecordingURL returns the media URL of the most recent recording of a call,
// empty when none exists.
func (s *Service) RecordingURL(ctx context.Context, callSID string) (string, error) {
	if !s.enabled {
		return "", nil
	}
	params := &api.ListRecordingParams{}
	params.SetCallSid(callSID)
	params.SetLimit(1)
	recordings, err := s.client.Api.ListRecording(params)
	if err != nil {
		return "", fmt.Errorf("failed to list recordings: %w", err)
	}
	if len(recordings) == 0 || recordings[0].Sid == nil {
		return "", nil
	}
	return fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Recordings/%s.mp3", s.accountSID, *recordings[0].Sid), nil
}

// PlaceOnboardingCall places the outbound onboarding interview call and
// returns the provider call SID.
func (s *Service) PlaceOnboardingCall(ctx context.Context, to, businessID, onboardingID string) (string, error) {
	if !s.enabled {
		return "", fmt.Errorf("telephony disabled, cannot place outbound call")
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(s.fromNumber)
	params.SetUrl(fmt.Sprintf("%s/webhook/onboarding-start?business_id=%s&onboarding_id=%s", s.baseURL, businessID, onboardingID))
	params.SetMethod("POST")
	params.SetRecord(true)
	params.SetStatusCallback(fmt.Sprintf("%s/webhook/onboarding-status?onboarding_id=%s", s.baseURL, onboardingID))

	call, err := s.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to place onboarding call: %w", err)
	}
	if call.Sid == nil {
		return "", fmt.Errorf("onboarding call created without sid")
	}
	return *call.Sid, nil
}

// PurchaseNumber buys a provider number and points its webhooks at this
// service. Returns the provider SID of the purchased number.
func (s *Service) PurchaseNumber(ctx context.Context, phoneNumber, label string) (string, error) {
	if !s.enabled {
		return "", fmt.Errorf("telephony disabled, cannot purchase number")
	}
	params := &api.CreateIncomingPhoneNumberParams{}
	params.SetPhoneNumber(phoneNumber)
	params.SetVoiceUrl(s.baseURL + "/webhook/incoming-call")
	params.SetVoiceMethod("POST")
	params.SetVoiceFallbackUrl(s.baseURL + "/webhook/call-fallback")
	params.SetStatusCallback(s.baseURL + "/webhook/call-status")
	params.SetStatusCallbackMethod("POST")
	params.SetSmsUrl(s.baseURL + "/webhook/incoming-sms")
	params.SetFriendlyName(label)

	number, err := s.client.Api.CreateIncomingPhoneNumber(params)
	if err != nil {
		return "", fmt.Errorf("failed to purchase number: %w", err)
	}
	if number.Sid == nil {
		return "", fmt.Errorf("number purchased without sid")
	}
	return *number.Sid, nil
}

// ReleaseNumber releases a purchased number back to the provider
func (s *Service) ReleaseNumber(ctx context.Context, providerSID string) error {
	if !s.enabled {
		return nil
	}
	if err := s.client.Api.DeleteIncomingPhoneNumber(providerSID, &api.DeleteIncomingPhoneNumberParams{}); err != nil {
		return fmt.Errorf("failed to release number: %w", err)
	}
	return nil
}
