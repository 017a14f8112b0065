package ai

import (
	"context"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/internal/prompts"
)

// Classification is the structured result of post-call transcript analysis
type Classification struct {
	Summary            string                 `json:"summary"`
	Category           string                 `json:"category"`
	Sentiment          string                 `json:"sentiment"`
	CallerName         string                 `json:"caller_name"`
	CallerIntent       string                 `json:"caller_intent"`
	Resolution         string                 `json:"resolution"`
	ActionItems        []string               `json:"action_items"`
	ShouldCreateTicket bool                   `json:"should_create_ticket"`
	TicketData         map[string]interface{} `json:"ticket_data"`
}

// AgentConfig is the backbone-built receptionist configuration produced
// from onboarding interview answers.
type AgentConfig struct {
	Greeting            string                 `json:"greeting"`
	BusinessHours       map[string]interface{} `json:"business_hours"`
	AfterHoursMessage   string                 `json:"after_hours_message"`
	TransferNumber      string                 `json:"transfer_number"`
	AgentPersonality    string                 `json:"agent_personality"`
	Services            []string               `json:"services"`
	FAQ                 domain.FAQList         `json:"faq"`
	RestrictedInfo      string                 `json:"restricted_info"`
	SpecialInstructions string                 `json:"special_instructions"`
}

// Backbone is the conversational AI the service delegates language work to.
// Implementations must honor the context deadline and surface
// domain.ErrBackboneTimeout / domain.ErrBackboneFailure so callers can
// degrade to the scripted fallback path.
type Backbone interface {
	// GenerateReply produces the receptionist's next utterance for a live turn
	GenerateReply(ctx context.Context, rc *prompts.ReplyContext) (string, error)

	// ClassifyCall analyzes a completed transcript
	ClassifyCall(ctx context.Context, transcript, businessName, businessType string) (*Classification, error)

	// ExtractOnboardingFields maps one interview answer to structured fields
	ExtractOnboardingFields(ctx context.Context, question domain.OnboardingQuestion, answer string) (map[string]interface{}, error)

	// BuildAgentConfig turns the collected answers into an agent configuration
	BuildAgentConfig(ctx context.Context, businessName, businessType string, answers map[string]interface{}) (*AgentConfig, error)

	// OnboardingQuestions proposes the interview script for a business
	OnboardingQuestions(ctx context.Context, businessName, businessType string) ([]domain.OnboardingQuestion, error)
}

// DefaultOnboardingQuestions is the scripted interview used when the
// backbone cannot propose a tailored one.
func DefaultOnboardingQuestions() []domain.OnboardingQuestion {
	return []domain.OnboardingQuestion{
		{ID: 1, Question: "First, what are your business opening hours? For example, Monday to Friday 9 to 5.", FieldName: "business_hours", Required: true},
		{ID: 2, Question: "What products or services does your business offer?", FieldName: "services", Required: true},
		{ID: 3, Question: "How should the assistant greet callers? You can give an exact phrase or just describe the tone.", FieldName: "greeting", Required: true},
		{ID: 4, Question: "What are the most common questions customers call about, and how should they be answered?", FieldName: "faq", Required: true},
		{ID: 5, Question: "If a caller needs a real person, what phone number should calls be transferred to?", FieldName: "transfer_number", Required: true},
		{ID: 6, Question: "Is there anything the assistant should never discuss or share with callers?", FieldName: "restricted_info", Required: false},
		{ID: 7, Question: "What should callers hear when they ring outside business hours?", FieldName: "after_hours_message", Required: false},
		{ID: 8, Question: "Finally, any special instructions for how the assistant should behave?", FieldName: "special_instructions", Required: false},
	}
}
