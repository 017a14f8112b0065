package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	callsvc "github.com/voicebothq/voicebot-service/internal/services/call"
	"github.com/voicebothq/voicebot-service/pkg/logger"
	"github.com/voicebothq/voicebot-service/pkg/twilio"
)

// WebhookHandler serves the telephony provider's voice webhooks. Every
// voice endpoint answers with valid TwiML, even on internal failure, so
// the caller never hears a provider error tone.
type WebhookHandler struct {
	calls     *callsvc.Service
	telephony *twilio.Service
}

func NewWebhookHandler(calls *callsvc.Service, telephony *twilio.Service) *WebhookHandler {
	return &WebhookHandler{calls: calls, telephony: telephony}
}

// HandleIncomingCall answers a new inbound call
func (h *WebhookHandler) HandleIncomingCall(w http.ResponseWriter, r *http.Request) {
	callSID := r.FormValue("CallSid")
	from := r.FormValue("From")
	to := r.FormValue("To")

	response, err := h.calls.StartInbound(r.Context(), callSID, from, to)
	writeTwiML(w, response, err)
}

// HandleGatherResponse handles one gathered caller utterance
func (h *WebhookHandler) HandleGatherResponse(w http.ResponseWriter, r *http.Request) {
	businessID := r.URL.Query().Get("business_id")
	callSID := r.URL.Query().Get("call_sid")
	turn, _ := strconv.Atoi(r.URL.Query().Get("turn"))
	speech := r.FormValue("SpeechResult")

	response, err := h.calls.HandleTurn(r.Context(), businessID, callSID, turn, speech)
	writeTwiML(w, response, err)
}

// HandleTransferRedirect is the no-input fallthrough on the greeting gather
func (h *WebhookHandler) HandleTransferRedirect(w http.ResponseWriter, r *http.Request) {
	businessID := r.URL.Query().Get("business_id")
	callSID := r.URL.Query().Get("call_sid")

	// An empty utterance through the turn path resolves the transfer with
	// the business's configured number and logging.
	response, err := h.calls.HandleTurn(r.Context(), businessID, callSID, 0, "transfer")
	writeTwiML(w, response, err)
}

// HandleCallStatus processes the provider's terminal status callback.
// Returning non-2xx makes the provider redeliver, which retries the
// analysis and metering side effects.
func (h *WebhookHandler) HandleCallStatus(w http.ResponseWriter, r *http.Request) {
	callSID := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	duration, _ := strconv.Atoi(r.FormValue("CallDuration"))

	if err := h.calls.HandleStatus(r.Context(), callSID, status, duration); err != nil {
		logger.Base().Error("call status processing failed",
			zap.String("call_sid", callSID),
			zap.String("status", status),
			zap.Error(err))
		http.Error(w, "status processing failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleVoicemailComplete stores a finished voicemail recording
func (h *WebhookHandler) HandleVoicemailComplete(w http.ResponseWriter, r *http.Request) {
	callSID := r.FormValue("CallSid")
	recordingURL := r.FormValue("RecordingUrl")
	duration, _ := strconv.Atoi(r.FormValue("RecordingDuration"))

	response, err := h.calls.HandleVoicemailComplete(r.Context(), callSID, recordingURL, duration)
	writeTwiML(w, response, err)
}

// HandleRecordingStatus acknowledges the provider's recording callback and
// stores the final recording URL. Some callbacks arrive before the URL is
// populated; those are resolved against the provider directly.
func (h *WebhookHandler) HandleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	callSID := r.FormValue("CallSid")
	recordingURL := r.FormValue("RecordingUrl")

	if recordingURL == "" && r.FormValue("RecordingStatus") == "completed" && h.telephony != nil {
		fetched, err := h.telephony.RecordingURL(r.Context(), callSID)
		if err != nil {
			logger.Base().Warn("recording lookup failed",
				zap.String("call_sid", callSID), zap.Error(err))
		}
		recordingURL = fetched
	}

	if err := h.calls.HandleRecordingStatus(r.Context(), callSID, recordingURL); err != nil {
		logger.Base().Error("recording status processing failed",
			zap.String("call_sid", callSID), zap.Error(err))
		http.Error(w, "recording processing failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleCallFallback is the provider's last-resort error webhook
func (h *WebhookHandler) HandleCallFallback(w http.ResponseWriter, r *http.Request) {
	callSID := r.FormValue("CallSid")
	response, err := h.calls.HandleFallback(r.Context(), callSID)
	writeTwiML(w, response, err)
}

// HandleIncomingSMS acknowledges inbound SMS to assigned numbers. Text
// conversations are not served; the sender gets a pointer back to voice.
func (h *WebhookHandler) HandleIncomingSMS(w http.ResponseWriter, r *http.Request) {
	logger.L().Infow("inbound sms",
		"from", r.FormValue("From"), "to", r.FormValue("To"))
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Response><Message>This number handles voice calls. Please call us instead.</Message></Response>`))
}

// writeTwiML writes the voice response, degrading to the scripted error
// message when generation itself failed.
func writeTwiML(w http.ResponseWriter, response string, err error) {
	if err != nil || response == "" {
		logger.Base().Error("twiml generation failed", zap.Error(err))
		if fallback, ferr := twilio.Fallback(); ferr == nil {
			response = fallback
		} else {
			response = `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`
		}
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(response))
}
