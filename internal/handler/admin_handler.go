package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/internal/repository"
	onboardingsvc "github.com/voicebothq/voicebot-service/internal/services/onboarding"
	"github.com/voicebothq/voicebot-service/pkg/logger"
	"github.com/voicebothq/voicebot-service/pkg/twilio"
)

// AdminHandler serves the dashboard management API: businesses, numbers,
// tickets, knowledge base, and onboarding kickoff.
type AdminHandler struct {
	repos      repository.RepositoryManager
	onboarding *onboardingsvc.Service
	telephony  *twilio.Service
}

func NewAdminHandler(repos repository.RepositoryManager, onboarding *onboardingsvc.Service, telephony *twilio.Service) *AdminHandler {
	return &AdminHandler{repos: repos, onboarding: onboarding, telephony: telephony}
}

type createBusinessRequest struct {
	Name         string `json:"name"`
	BusinessType string `json:"business_type"`
	Tier         string `json:"tier"`
	OwnerPhone   string `json:"owner_phone"`
}

// CreateBusiness registers a new tenant in pending state
func (h *AdminHandler) CreateBusiness(w http.ResponseWriter, r *http.Request) {
	var req createBusinessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	business := &domain.Business{
		Name:         req.Name,
		BusinessType: req.BusinessType,
		Tier:         domain.Tier(req.Tier),
		OwnerPhone:   req.OwnerPhone,
	}
	if _, ok := domain.LimitForTier(business.Tier); !ok {
		business.Tier = domain.TierStarter
	}
	if err := h.repos.Business().Create(r.Context(), business); err != nil {
		logger.Base().Error("failed to create business", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create business")
		return
	}
	writeJSON(w, http.StatusCreated, business)
}

// GetBusiness returns one tenant
func (h *AdminHandler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	business, err := h.repos.Business().GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load business")
		return
	}
	if business == nil {
		writeError(w, http.StatusNotFound, "business not found")
		return
	}
	writeJSON(w, http.StatusOK, business)
}

// ActivateBusiness puts a reviewed tenant live
func (h *AdminHandler) ActivateBusiness(w http.ResponseWriter, r *http.Request) {
	h.setBusinessStatus(w, r, domain.BusinessStatusActive)
}

// SuspendBusiness takes a tenant out of service
func (h *AdminHandler) SuspendBusiness(w http.ResponseWriter, r *http.Request) {
	h.setBusinessStatus(w, r, domain.BusinessStatusSuspended)
}

func (h *AdminHandler) setBusinessStatus(w http.ResponseWriter, r *http.Request, status domain.BusinessStatus) {
	id := mux.Vars(r)["id"]
	if err := h.repos.Business().SetStatus(r.Context(), id, status); err != nil {
		logger.Base().Error("failed to set business status",
			zap.String("business_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update business")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

// StartOnboarding places the outbound interview call
func (h *AdminHandler) StartOnboarding(w http.ResponseWriter, r *http.Request) {
	record, err := h.onboarding.Start(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		logger.Base().Error("failed to start onboarding", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// ListOnboarding returns a business's interview attempts
func (h *AdminHandler) ListOnboarding(w http.ResponseWriter, r *http.Request) {
	records, err := h.repos.Onboarding().ListByBusiness(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list onboarding calls")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// ListCalls returns a business's recent calls, or only the calls currently
// in progress when live=true.
func (h *AdminHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("live") == "true" {
		calls, err := h.repos.Call().ListInProgress(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list calls")
			return
		}
		writeJSON(w, http.StatusOK, calls)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	calls, err := h.repos.Call().ListRecent(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

// ListTickets returns a business's tickets, optionally filtered by status
func (h *AdminHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	status := domain.TicketStatus(r.URL.Query().Get("status"))
	tickets, err := h.repos.Ticket().ListByBusiness(r.Context(), mux.Vars(r)["id"], status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

type updateTicketRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// UpdateTicket moves a ticket through its workflow
func (h *AdminHandler) UpdateTicket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req updateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := h.repos.Ticket().UpdateStatus(r.Context(), vars["ticketId"], vars["id"], domain.TicketStatus(req.Status), req.Notes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update ticket")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": vars["ticketId"], "status": req.Status})
}

type createNumberRequest struct {
	Number   string `json:"number"`
	Label    string `json:"label"`
	Purchase bool   `json:"purchase"`
}

// CreateNumber registers a phone number in the pool, optionally purchasing
// it from the provider first.
func (h *AdminHandler) CreateNumber(w http.ResponseWriter, r *http.Request) {
	var req createNumberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Number == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	phone := &domain.PhoneNumber{
		ID:     uuid.New().String(),
		Number: req.Number,
		Label:  req.Label,
		Status: domain.PhoneNumberStatusAvailable,
	}
	if req.Purchase {
		sid, err := h.telephony.PurchaseNumber(r.Context(), req.Number, req.Label)
		if err != nil {
			logger.Base().Error("number purchase failed",
				zap.String("number", req.Number), zap.Error(err))
			writeError(w, http.StatusBadGateway, "number purchase failed")
			return
		}
		phone.ProviderSID = sid
	}

	if err := h.repos.PhoneNumber().Create(r.Context(), phone); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create number")
		return
	}
	writeJSON(w, http.StatusCreated, phone)
}

type assignNumberRequest struct {
	BusinessID string `json:"business_id"`
}

// AssignNumber hands an available number to a business, enforcing the
// tier's number allowance.
func (h *AdminHandler) AssignNumber(w http.ResponseWriter, r *http.Request) {
	numberID := mux.Vars(r)["id"]
	var req assignNumberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BusinessID == "" {
		writeError(w, http.StatusBadRequest, "business_id is required")
		return
	}

	business, err := h.repos.Business().GetByID(r.Context(), req.BusinessID)
	if err != nil || business == nil {
		writeError(w, http.StatusNotFound, "business not found")
		return
	}
	if limit, ok := domain.LimitForTier(business.Tier); ok {
		assigned, err := h.repos.PhoneNumber().ListByBusiness(r.Context(), business.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check number allowance")
			return
		}
		if len(assigned) >= limit.Numbers {
			writeError(w, http.StatusConflict, "number allowance reached for tier")
			return
		}
	}

	if err := h.repos.PhoneNumber().Assign(r.Context(), numberID, req.BusinessID); err != nil {
		logger.Base().Error("number assignment failed",
			zap.String("number_id", numberID), zap.Error(err))
		writeError(w, http.StatusConflict, "number is not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": numberID, "business_id": req.BusinessID})
}

// ReleaseNumber returns a number to the pool
func (h *AdminHandler) ReleaseNumber(w http.ResponseWriter, r *http.Request) {
	numberID := mux.Vars(r)["id"]

	phone, err := h.repos.PhoneNumber().GetByID(r.Context(), numberID)
	if err != nil || phone == nil {
		writeError(w, http.StatusNotFound, "number not found")
		return
	}
	if phone.ProviderSID != "" {
		if err := h.telephony.ReleaseNumber(r.Context(), phone.ProviderSID); err != nil {
			logger.Base().Error("provider release failed",
				zap.String("number_id", numberID), zap.Error(err))
		}
	}
	if err := h.repos.PhoneNumber().Release(r.Context(), numberID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to release number")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": numberID, "status": string(domain.PhoneNumberStatusReleased)})
}

type createKBRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	DocType string `json:"doc_type"`
}

// AddKnowledgeBase adds one document the agent can quote from
func (h *AdminHandler) AddKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	businessID := mux.Vars(r)["id"]
	var req createKBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}

	entry := &domain.KnowledgeBaseEntry{
		ID:         uuid.New().String(),
		BusinessID: businessID,
		Title:      req.Title,
		Content:    req.Content,
		DocType:    req.DocType,
		Active:     true,
	}
	if err := h.repos.KnowledgeBase().Create(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add knowledge base entry")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// RemoveKnowledgeBase deactivates one document
func (h *AdminHandler) RemoveKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.repos.KnowledgeBase().Deactivate(r.Context(), vars["kbId"], vars["id"]); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove knowledge base entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
