package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/internal/repository"
	"github.com/voicebothq/voicebot-service/pkg/logger"
)

// UsageHandler serves the dashboard's usage read model
type UsageHandler struct {
	repos repository.RepositoryManager
}

func NewUsageHandler(repos repository.RepositoryManager) *UsageHandler {
	return &UsageHandler{repos: repos}
}

// UsageResponse is the current-month usage projection for one business.
// ActiveCalls is a live count, never a stored counter.
type UsageResponse struct {
	BusinessID     string  `json:"business_id"`
	Month          string  `json:"month"`
	Tier           string  `json:"tier"`
	MinutesUsed    int64   `json:"minutes_used"`
	MinutesLimit   int64   `json:"minutes_limit"`
	OverageMinutes int64   `json:"overage_minutes"`
	PercentUsed    float64 `json:"percent_used"`
	ActiveCalls    int64   `json:"active_calls"`
	AlertsSent     []int   `json:"alerts_sent"`
}

// GetUsage returns the current month's usage for a business
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	businessID := mux.Vars(r)["id"]

	business, err := h.repos.Business().GetByID(r.Context(), businessID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load business")
		return
	}
	if business == nil {
		writeError(w, http.StatusNotFound, "business not found")
		return
	}

	month := domain.MonthKey(time.Now().UTC())
	resp := UsageResponse{
		BusinessID: businessID,
		Month:      month,
		Tier:       string(business.Tier),
		AlertsSent: []int{},
	}
	if limit, ok := domain.LimitForTier(business.Tier); ok {
		resp.MinutesLimit = limit.Minutes
	}

	usage, err := h.repos.Usage().Get(r.Context(), businessID, month)
	if err != nil {
		logger.Base().Error("failed to load usage",
			zap.String("business_id", businessID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	if usage != nil {
		resp.MinutesUsed = usage.MinutesUsed
		resp.MinutesLimit = usage.MinutesLimit
		resp.OverageMinutes = usage.OverageMinutes
		if usage.MinutesLimit > 0 {
			resp.PercentUsed = float64(usage.MinutesUsed) / float64(usage.MinutesLimit) * 100
		}
		for _, pct := range domain.AlertThresholds {
			if usage.AlertSent(pct) {
				resp.AlertsSent = append(resp.AlertsSent, pct)
			}
		}
	}

	active, err := h.repos.Call().CountInProgress(r.Context(), businessID)
	if err != nil {
		logger.Base().Error("failed to count live calls",
			zap.String("business_id", businessID), zap.Error(err))
	} else {
		resp.ActiveCalls = active
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Base().Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
