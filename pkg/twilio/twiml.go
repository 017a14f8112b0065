package twilio

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

const (
	voiceName = "Polly.Amy"
	voiceLang = "en-GB"
)

func say(message string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: message, Voice: voiceName, Language: voiceLang}
}

func gatherSpeech(action string, timeout, speechTimeout string, inner ...twiml.Element) *twiml.VoiceGather {
	return &twiml.VoiceGather{
		Input:         "speech",
		Action:        action,
		Method:        "POST",
		Timeout:       timeout,
		SpeechTimeout: speechTimeout,
		Language:      voiceLang,
		InnerElements: inner,
	}
}

// GreetAndGather answers a call: speak the greeting inside a speech gather,
// and fall back to a transfer when the caller says nothing.
func GreetAndGather(greeting, businessID, callSID string) (string, error) {
	action := fmt.Sprintf("/webhook/gather-response?business_id=%s&call_sid=%s&turn=0", businessID, callSID)
	return twiml.Voice([]twiml.Element{
		gatherSpeech(action, "5", "3", say(greeting)),
		say("I didn't catch that. Let me transfer you to someone who can help."),
		&twiml.VoiceRedirect{Url: fmt.Sprintf("/webhook/transfer?business_id=%s&call_sid=%s", businessID, callSID), Method: "POST"},
	})
}

// RespondAndGather speaks the agent reply and gathers the next utterance
func RespondAndGather(reply, businessID, callSID string, nextTurn int) (string, error) {
	action := fmt.Sprintf("/webhook/gather-response?business_id=%s&call_sid=%s&turn=%d", businessID, callSID, nextTurn)
	return twiml.Voice([]twiml.Element{
		gatherSpeech(action, "5", "3", say(reply)),
		say("Thank you for calling. Have a great day!"),
		&twiml.VoiceHangup{},
	})
}

// RepeatPrompt asks the caller to repeat when no speech was captured
func RepeatPrompt(businessID, callSID string, turn int) (string, error) {
	action := fmt.Sprintf("/webhook/gather-response?business_id=%s&call_sid=%s&turn=%d", businessID, callSID, turn)
	return twiml.Voice([]twiml.Element{
		say("I didn't catch that. Could you please repeat?"),
		gatherSpeech(action, "5", "3"),
	})
}

// Transfer dials the configured human number
func Transfer(transferNumber, message string) (string, error) {
	if message == "" {
		message = "Let me transfer you now."
	}
	return twiml.Voice([]twiml.Element{
		say(message),
		&twiml.VoiceDial{
			Timeout:       "30",
			InnerElements: []twiml.Element{&twiml.VoiceNumber{PhoneNumber: transferNumber}},
		},
		say("Sorry, nobody is available right now. Please try again later."),
		&twiml.VoiceHangup{},
	})
}

// SayHangup speaks a closing message and hangs up
func SayHangup(message string) (string, error) {
	return twiml.Voice([]twiml.Element{
		say(message),
		&twiml.VoiceHangup{},
	})
}

// AfterHours plays the after-hours message and records a voicemail
func AfterHours(message string) (string, error) {
	return twiml.Voice([]twiml.Element{
		say(message),
		say("Please leave a message after the beep."),
		&twiml.VoiceRecord{
			MaxLength:               "120",
			Action:                  "/webhook/voicemail-complete",
			PlayBeep:                "true",
			Transcribe:              "false",
			RecordingStatusCallback: "/webhook/recording-status",
		},
		say("Thank you. Goodbye."),
		&twiml.VoiceHangup{},
	})
}

// VoicemailThanks acknowledges a saved voicemail recording
func VoicemailThanks() (string, error) {
	return twiml.Voice([]twiml.Element{
		say("Thank you. Goodbye."),
		&twiml.VoiceHangup{},
	})
}

// Fallback is the provider-side error response
func Fallback() (string, error) {
	return twiml.Voice([]twiml.Element{
		say("We're experiencing technical difficulties. Please try again later."),
		&twiml.VoiceHangup{},
	})
}

// Unconfigured answers a call to a number no business owns
func Unconfigured() (string, error) {
	return twiml.Voice([]twiml.Element{
		say("Sorry, this number is not configured. Goodbye."),
		&twiml.VoiceHangup{},
	})
}

// OnboardingWelcome opens the interview and asks the first question
func OnboardingWelcome(firstQuestion, businessID, onboardingID string) (string, error) {
	action := fmt.Sprintf("/webhook/onboarding-answer?business_id=%s&onboarding_id=%s&q=0", businessID, onboardingID)
	return twiml.Voice([]twiml.Element{
		say("Hello! I'm going to ask you a few questions to set up your AI receptionist. Let's get started!"),
		&twiml.VoicePause{Length: "1"},
		gatherSpeech(action, "8", "5", say(firstQuestion)),
		say("I didn't hear a response. Let me move to the next question."),
		&twiml.VoiceRedirect{
			Url:    fmt.Sprintf("/webhook/onboarding-next?business_id=%s&onboarding_id=%s&q=1", businessID, onboardingID),
			Method: "POST",
		},
	})
}

// OnboardingQuestion asks one interview question and gathers the answer
func OnboardingQuestion(question, businessID, onboardingID string, questionIdx int) (string, error) {
	action := fmt.Sprintf("/webhook/onboarding-answer?business_id=%s&onboarding_id=%s&q=%d", businessID, onboardingID, questionIdx)
	return twiml.Voice([]twiml.Element{
		gatherSpeech(action, "8", "5", say(question)),
		say("I didn't hear a response. Let me move to the next question."),
		&twiml.VoiceRedirect{
			Url:    fmt.Sprintf("/webhook/onboarding-next?business_id=%s&onboarding_id=%s&q=%d", businessID, onboardingID, questionIdx+1),
			Method: "POST",
		},
	})
}

// OnboardingComplete closes the interview
func OnboardingComplete() (string, error) {
	return twiml.Voice([]twiml.Element{
		say("That's all the questions I have. Thank you! Your AI receptionist is being configured now. We'll send you a text when it's ready. Goodbye!"),
		&twiml.VoiceHangup{},
	})
}
