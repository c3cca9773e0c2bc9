package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aradsms/channel_gateway/internal/channel_service/app"
	"github.com/aradsms/channel_gateway/internal/channel_service/provider"
	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/aradsms/channel_gateway/internal/public_api_service/middleware"
	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	defaultDeadLetterLimit = 50
	maxSLAWindowDays       = 90
)

// ReliabilityAPI is the part of *app.ReliabilityService the admin API exposes.
type ReliabilityAPI interface {
	GetChannelSLA(ctx context.Context, orgID string, days int) (*domain.SLAReport, error)
	GetDeadLetterQueue(orgID string, limit int) []domain.DeadLetterItem
	RetryDeadLetterItem(ctx context.Context, orgID, id string) (*domain.DeliveryResult, error)
}

// ChannelCatalog reports which channels can be used.
type ChannelCatalog interface {
	ChannelStatuses() []ChannelStatus
}

// ProviderLookup is satisfied by *app.ChannelRouter.
type ProviderLookup interface {
	GetProvider(channelType string) (provider.ChannelProvider, bool)
}

// RegistryCatalog lists registered adapters. Provider-backed channels are configured when their
// default credentials are present; the rest are always usable.
type RegistryCatalog struct {
	Registry interface{ Channels() []domain.ChannelType }
	Router   ProviderLookup
}

func (c RegistryCatalog) ChannelStatuses() []ChannelStatus {
	channels := c.Registry.Channels()
	out := make([]ChannelStatus, 0, len(channels))
	for _, ct := range channels {
		configured := true
		if p, ok := c.Router.GetProvider(string(ct)); ok {
			configured = p.IsConfigured()
		}
		out = append(out, ChannelStatus{ChannelType: ct, Configured: configured})
	}
	return out
}

type AdminHandler struct {
	adapters    app.AdapterResolver
	reliability ReliabilityAPI
	catalog     ChannelCatalog
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewAdminHandler(adapters app.AdapterResolver, reliability ReliabilityAPI, catalog ChannelCatalog, validate *validator.Validate, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		adapters:    adapters,
		reliability: reliability,
		catalog:     catalog,
		validate:    validate,
		logger:      logger.With("handler", "admin"),
	}
}

// RegisterRoutes registers the organization-scoped routes. AuthMiddleware must wrap r.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages/send", h.handleSendMessage)
	r.Get("/channels", h.handleListChannels)
	r.Get("/channels/sla", h.handleGetSLA)
	r.Get("/dead-letters", h.handleListDeadLetters)
	r.Post("/dead-letters/{id}/retry", h.handleRetryDeadLetter)
}

func (h *AdminHandler) requestScope(w http.ResponseWriter, r *http.Request) (string, *slog.Logger, bool) {
	logger := h.logger.With("request_id", chi_middleware.GetReqID(r.Context()))
	orgID, ok := middleware.OrganizationIDFromContext(r.Context())
	if !ok {
		jsonError(w, r, logger, "Organization not authenticated", http.StatusUnauthorized)
		return "", nil, false
	}
	return orgID, logger.With("organization_id", orgID), true
}

func (h *AdminHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, logger, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes)).Decode(&req); err != nil {
		jsonError(w, r, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		jsonError(w, r, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	adapter, err := h.adapters.Get(req.ChannelType)
	if err != nil {
		jsonError(w, r, logger, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := adapter.SendMessage(ctx, orgID, domain.ChannelConfig(req.Config), req.RecipientID, domain.UnifiedOutgoingMessage{
		Content:               req.Content,
		ContentType:           domain.ContentText,
		ChannelType:           adapter.ChannelType(),
		Subject:               req.Subject,
		ChannelConversationID: req.ConversationID,
	})
	if err != nil {
		resp := SendMessageResponse{Result: res}
		var exhausted *domain.ExhaustedRetriesError
		if errors.As(err, &exhausted) {
			resp.DeadLetterID = exhausted.DeadLetterID
		}
		logger.WarnContext(ctx, "Send failed", "channel_type", req.ChannelType, "error", err)
		writeJSON(w, statusFor(err), resp)
		return
	}
	logger.InfoContext(ctx, "Message sent", "channel_type", req.ChannelType, "message_id", res.MessageID)
	writeJSON(w, http.StatusOK, SendMessageResponse{Result: res})
}

func (h *AdminHandler) handleListChannels(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.requestScope(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, ChannelListResponse{Channels: h.catalog.ChannelStatuses()})
}

func (h *AdminHandler) handleGetSLA(w http.ResponseWriter, r *http.Request) {
	orgID, logger, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSLAWindowDays {
			jsonError(w, r, logger, "days must be an integer between 1 and 90", http.StatusBadRequest)
			return
		}
		days = n
	}

	report, err := h.reliability.GetChannelSLA(r.Context(), orgID, days)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to build SLA report", "error", err)
		jsonError(w, r, logger, "Failed to build SLA report", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	orgID, logger, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	limit := defaultDeadLetterLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			jsonError(w, r, logger, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items := h.reliability.GetDeadLetterQueue(orgID, limit)
	if items == nil {
		items = []domain.DeadLetterItem{}
	}
	writeJSON(w, http.StatusOK, DeadLetterListResponse{Items: items, Count: len(items)})
}

func (h *AdminHandler) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, logger, ok := h.requestScope(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	res, err := h.reliability.RetryDeadLetterItem(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			jsonError(w, r, logger, "Dead-letter item not found", http.StatusNotFound)
			return
		}
		resp := SendMessageResponse{Result: &domain.DeliveryResult{Status: domain.DeliveryFailed, Error: err.Error()}}
		var exhausted *domain.ExhaustedRetriesError
		if errors.As(err, &exhausted) {
			resp.DeadLetterID = exhausted.DeadLetterID
		}
		logger.WarnContext(ctx, "Dead-letter replay failed", "dead_letter_id", id, "error", err)
		writeJSON(w, statusFor(err), resp)
		return
	}
	logger.InfoContext(ctx, "Dead-letter item replayed", "dead_letter_id", id, "message_id", res.MessageID)
	writeJSON(w, http.StatusOK, SendMessageResponse{Result: res})
}
