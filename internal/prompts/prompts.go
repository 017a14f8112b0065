package prompts

import (
	"fmt"
	"strings"

	"github.com/voicebothq/voicebot-service/internal/domain"
)

// FallbackReply is spoken when the AI backbone cannot produce a reply in
// time; the call is then handed to a human.
const FallbackReply = "I'm sorry, I'm having a little trouble right now. Let me transfer you to someone who can help."

// DefaultSystemInstruction is used when a business has no personality configured
const DefaultSystemInstruction = "You are a friendly, professional receptionist."

const replyRules = `RULES:
- NEVER repeat the greeting. If the conversation already shows you greeted, move forward.
- If this is a RETURNING caller, acknowledge it naturally. Reference their previous calls if relevant.
- Respond in 1-3 sentences. Be warm, helpful, concise.
- If you can't help, offer to transfer.
- NEVER share restricted information.
- No markdown or special characters, this is spoken aloud.
- If the caller seems frustrated, especially a repeat caller, be extra empathetic.`

// ReplyContext carries everything the backbone needs for one live turn
type ReplyContext struct {
	Business      *domain.Business
	Personality   string
	CallerNumber  string
	CallerHistory []domain.CallSummary
	Turns         []domain.ConversationEntry
	Utterance     string
	KnowledgeBase []*domain.KnowledgeBaseEntry
}

// SystemInstruction returns the per-business system prompt
func (c *ReplyContext) SystemInstruction() string {
	if c.Personality != "" {
		return c.Personality
	}
	if c.Business != nil && c.Business.AgentPersonality != "" {
		return c.Business.AgentPersonality
	}
	return DefaultSystemInstruction
}

// BuildReplyPrompt renders the live-turn prompt: seeded caller history,
// the conversation so far, business knowledge, and the conduct rules.
func BuildReplyPrompt(c *ReplyContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CALLER PHONE NUMBER: %s\n\n", valueOr(c.CallerNumber, "unknown"))

	b.WriteString("CALLER HISTORY:\n")
	if len(c.CallerHistory) == 0 {
		b.WriteString("No previous calls from this number. This is a new caller.\n")
	} else {
		b.WriteString("RETURNING CALLER. Previous calls from this caller:\n")
		for _, h := range c.CallerHistory {
			fmt.Fprintf(&b, "- %s: %s (Category: %s, Sentiment: %s)\n",
				h.Date.Format("2006-01-02"), valueOr(h.Summary, "No summary"),
				valueOr(h.Category, "unknown"), valueOr(h.Sentiment, "unknown"))
		}
	}

	b.WriteString("\nCURRENT CONVERSATION:\n")
	turns := c.Turns
	if len(turns) > 10 {
		turns = turns[len(turns)-10:]
	}
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Text)
	}

	fmt.Fprintf(&b, "\nCALLER JUST SAID: %q\n", c.Utterance)

	b.WriteString("\nKNOWLEDGE BASE:\n")
	if c.Business != nil {
		for _, f := range c.Business.FAQ {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", f.Q, f.A)
		}
	}
	kb := c.KnowledgeBase
	if len(kb) > 5 {
		kb = kb[:5]
	}
	for _, doc := range kb {
		fmt.Fprintf(&b, "--- %s: %s\n", doc.Title, doc.Content)
	}

	if c.Business != nil {
		b.WriteString("\nBUSINESS INFO:\n")
		fmt.Fprintf(&b, "Transfer number: %s\n", valueOr(c.Business.TransferNumber, "None"))
		fmt.Fprintf(&b, "Restricted info (NEVER share): %s\n", valueOr(c.Business.RestrictedInfo, "None"))
	}

	b.WriteString("\n")
	b.WriteString(replyRules)
	b.WriteString("\n\nRESPOND AS THE RECEPTIONIST:")
	return b.String()
}

// BuildClassifyPrompt renders the post-call analysis prompt. The backbone
// must answer with the fixed-shape JSON the pipeline decodes.
func BuildClassifyPrompt(transcript, businessName, businessType string) string {
	return fmt.Sprintf(`Analyze this transcript. Return JSON:
{
  "summary": "2-3 sentence summary",
  "category": "order|complaint|enquiry|booking|support|return|spam|other",
  "sentiment": "positive|neutral|negative",
  "caller_name": "caller's name if mentioned, otherwise empty string",
  "caller_intent": "one sentence",
  "resolution": "resolved|escalated|unresolved|voicemail",
  "action_items": ["..."],
  "should_create_ticket": true/false,
  "ticket_data": {"type":"...","priority":"low|normal|high|urgent","subject":"...","description":"...","caller_name":"..."}
}

Set should_create_ticket true when there are action items or the category
is order, complaint, booking, return or support, and fill ticket_data.

TRANSCRIPT:
%s`, transcript)
}

// ClassifySystemInstruction returns the analysis system prompt for a business
func ClassifySystemInstruction(businessName, businessType string) string {
	return fmt.Sprintf("Analyzing calls for %s (%s). Return valid JSON only.", businessName, businessType)
}

// BuildExtractPrompt renders the onboarding field-extraction prompt for one
// question/answer pair.
func BuildExtractPrompt(question domain.OnboardingQuestion, answer string) string {
	return fmt.Sprintf(`Extract structured setup fields from an onboarding interview answer.
Question (field %q): %s
Answer: %q

Return a JSON object mapping field names to string values. Always include
the field %q with the cleaned-up answer; add other fields only when the
answer clearly contains them (for example a phone number in E.164 form).`,
		question.FieldName, question.Question, answer, question.FieldName)
}

// BuildAgentConfigPrompt renders the prompt that turns interview answers
// into the business agent configuration.
func BuildAgentConfigPrompt(businessName, businessType string, answers map[string]interface{}) string {
	var pairs []string
	for field, value := range answers {
		pairs = append(pairs, fmt.Sprintf("%s: %v", field, value))
	}
	return fmt.Sprintf(`Build an AI receptionist config from onboarding answers.
Business: %s (%s)
Answers:
%s

Return JSON with keys:
greeting, business_hours, after_hours_message, transfer_number,
agent_personality (detailed system prompt), services, faq (array of q/a),
restricted_info, special_instructions`, businessName, businessType, strings.Join(pairs, "\n"))
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
