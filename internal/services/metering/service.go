package metering

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/internal/repository"
	"github.com/voicebothq/voicebot-service/pkg/logger"
)

// SMSSender delivers usage alerts to the business owner
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Service is the metering coordinator. Every finished call is billed to the
// ledger exactly once: the per-call metered flag is the idempotency claim,
// the ledger increment is a single atomic SQL update, and each alert
// threshold fires at most once per business-month.
type Service struct {
	repos repository.RepositoryManager
	sms   SMSSender
}

func NewService(repos repository.RepositoryManager, sms SMSSender) *Service {
	return &Service{repos: repos, sms: sms}
}

// MeterCompletedCall bills one finished call. Retries are no-ops once the
// call's metered flag is claimed.
func (s *Service) MeterCompletedCall(ctx context.Context, c *domain.Call, business *domain.Business) error {
	if c == nil || business == nil {
		return nil
	}
	if !c.Status.Terminal() {
		return nil
	}

	minutes := domain.CeilMinutes(c.DurationSeconds)
	if minutes == 0 {
		// Nothing to bill, but claim the flag so retries stop here
		_, err := s.repos.Call().MarkMetered(ctx, c.ProviderCallSID)
		return err
	}

	month := domain.MonthKey(time.Now().UTC())

	limit, ok := domain.LimitForTier(business.Tier)
	if !ok {
		// Unknown tier bills as unlimited rather than dropping the call
		logger.Base().Error("metering as unlimited",
			zap.String("business_id", business.ID),
			zap.String("tier", string(business.Tier)),
			zap.Error(domain.ErrLimitNotFound))
	}

	// The claim and the increment commit together. If the ledger write
	// fails the claim rolls back with it, so the webhook redelivery can
	// bill the call instead of finding it already claimed.
	var usage *domain.MinutesUsage
	skipped := false
	err := s.repos.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
		claimed, err := repos.Call().MarkMetered(ctx, c.ProviderCallSID)
		if err != nil {
			return fmt.Errorf("failed to claim metering: %w", err)
		}
		if !claimed {
			skipped = true
			return nil
		}
		if _, err := repos.Usage().GetOrCreate(ctx, business.ID, month, limit.Minutes); err != nil {
			return fmt.Errorf("failed to open usage ledger: %w", err)
		}
		usage, err = repos.Usage().AddMinutes(ctx, business.ID, month, minutes)
		if err != nil {
			return fmt.Errorf("failed to add minutes: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if skipped {
		logger.L().Infow("skipping metered call",
			"call_sid", c.ProviderCallSID, "reason", domain.ErrAlreadyMetered)
		return nil
	}

	logger.L().Infow("call metered",
		"call_sid", c.ProviderCallSID,
		"business_id", business.ID,
		"minutes", minutes,
		"minutes_used", usage.MinutesUsed,
		"overage_minutes", usage.OverageMinutes)

	s.sendAlerts(ctx, business, usage)
	return nil
}

// sendAlerts walks the thresholds in ascending order so a jump past several
// at once still produces every notice, each exactly once. Alert delivery is
// best effort; a lost SMS is not a metering failure.
func (s *Service) sendAlerts(ctx context.Context, business *domain.Business, usage *domain.MinutesUsage) {
	if usage.Unlimited() {
		return
	}
	for _, pct := range domain.AlertThresholds {
		if !usage.ThresholdMet(pct) || usage.AlertSent(pct) {
			continue
		}
		claimed, err := s.repos.Usage().MarkAlertSent(ctx, business.ID, usage.Month, pct)
		if err != nil {
			logger.Base().Error("failed to claim usage alert",
				zap.String("business_id", business.ID),
				zap.Int("threshold", pct), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		if business.OwnerPhone == "" || s.sms == nil {
			continue
		}
		body := fmt.Sprintf("VoiceBot Alert: You've used %d%% of your monthly minutes for %s.", pct, business.Name)
		if pct >= 100 {
			body = fmt.Sprintf("VoiceBot Alert: You've used 100%% of your monthly minutes for %s. Calls will use overage billing at £0.08/min.", business.Name)
		}
		if err := s.sms.SendSMS(ctx, business.OwnerPhone, body); err != nil {
			logger.Base().Error("failed to send usage alert sms",
				zap.String("business_id", business.ID),
				zap.Int("threshold", pct), zap.Error(err))
			continue
		}
		logger.L().Infow("usage alert sent",
			"business_id", business.ID, "threshold", pct, "month", usage.Month)
	}
}
