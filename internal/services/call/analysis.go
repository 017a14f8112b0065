package call

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/internal/repository"
	"github.com/voicebothq/voicebot-service/pkg/ai"
	"github.com/voicebothq/voicebot-service/pkg/logger"
)

// Analyzer runs the post-call analysis pipeline: classify the transcript,
// write the result onto the call exactly once, and raise at most one ticket
// per call for actionable outcomes.
type Analyzer struct {
	repos    repository.RepositoryManager
	backbone ai.Backbone
	timeout  time.Duration
}

func NewAnalyzer(repos repository.RepositoryManager, backbone ai.Backbone, timeout time.Duration) *Analyzer {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Analyzer{repos: repos, backbone: backbone, timeout: timeout}
}

// AnalyzeCompletedCall classifies one finished call. Safe to retry: a call
// whose summary is already written is left untouched.
func (a *Analyzer) AnalyzeCompletedCall(ctx context.Context, c *domain.Call, business *domain.Business) error {
	if c == nil || c.Analyzed() {
		return nil
	}

	transcript := c.ConversationLog.Transcript()
	if transcript == "" {
		logger.L().Infow("skipping analysis, empty transcript",
			"call_sid", c.ProviderCallSID, "status", c.Status)
		return nil
	}

	businessName, businessType := "", ""
	if business != nil {
		businessName, businessType = business.Name, business.BusinessType
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.backbone.ClassifyCall(ctx, transcript, businessName, businessType)
	if err != nil {
		return fmt.Errorf("call analysis failed: %w", err)
	}

	if c.Status == domain.CallStatusVoicemail {
		result.Resolution = domain.ResolutionVoicemail
	}

	wrote, err := a.repos.Call().SetAnalysis(ctx, c.ProviderCallSID, repository.AnalysisFields{
		Summary:      result.Summary,
		Category:     result.Category,
		Sentiment:    result.Sentiment,
		CallerIntent: result.CallerIntent,
		Resolution:   result.Resolution,
		ActionItems:  domain.StringList(result.ActionItems),
	})
	if err != nil {
		return err
	}
	if !wrote {
		// A concurrent retry got there first; the ticket guard below
		// still makes this path safe to continue.
		logger.L().Infow("skipping analysis write",
			"call_sid", c.ProviderCallSID, "reason", domain.ErrAnalysisAlreadyDone)
	}

	ticketNeeded := needsTicket(result)
	if ticketNeeded {
		if err := a.createTicket(ctx, c, result); err != nil {
			return err
		}
	}

	logger.L().Infow("call analyzed",
		"call_sid", c.ProviderCallSID,
		"category", result.Category,
		"sentiment", result.Sentiment,
		"resolution", result.Resolution,
		"ticket", ticketNeeded)
	return nil
}

// actionableCategories always warrant a follow-up ticket, whatever the
// backbone's own flag says.
var actionableCategories = map[string]bool{
	"order":     true,
	"complaint": true,
	"booking":   true,
	"return":    true,
	"support":   true,
}

// needsTicket decides whether a classified call produces a ticket. The
// backbone's flag is advisory; outstanding action items or an actionable
// category raise one regardless.
func needsTicket(result *ai.Classification) bool {
	if result.ShouldCreateTicket {
		return true
	}
	if len(result.ActionItems) > 0 {
		return true
	}
	return actionableCategories[result.Category]
}

func (a *Analyzer) createTicket(ctx context.Context, c *domain.Call, result *ai.Classification) error {
	ticket := &domain.Ticket{
		ID:           uuid.New().String(),
		BusinessID:   c.BusinessID,
		CallID:       c.ID,
		Type:         stringField(result.TicketData, "type", result.Category),
		Priority:     stringField(result.TicketData, "priority", domain.TicketPriorityNormal),
		Subject:      stringField(result.TicketData, "subject", result.CallerIntent),
		Description:  stringField(result.TicketData, "description", result.Summary),
		CallerName:   stringField(result.TicketData, "caller_name", result.CallerName),
		CallerNumber: c.CallerNumber,
	}
	// Angry callers never land at the bottom of the queue
	if result.Sentiment == domain.SentimentNegative &&
		(ticket.Priority == domain.TicketPriorityLow || ticket.Priority == domain.TicketPriorityNormal) {
		ticket.Priority = domain.TicketPriorityHigh
	}

	created, err := a.repos.Ticket().CreateForCall(ctx, ticket)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	if created {
		logger.L().Infow("ticket created",
			"call_sid", c.ProviderCallSID,
			"ticket_id", ticket.ID,
			"priority", ticket.Priority)
	}
	return nil
}

func stringField(data map[string]interface{}, key, fallback string) string {
	if data != nil {
		if v, ok := data[key].(string); ok && v != "" {
			return v
		}
	}
	if fallback == "" {
		return "other"
	}
	return fallback
}
