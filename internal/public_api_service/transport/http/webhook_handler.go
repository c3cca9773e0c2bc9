package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aradsms/channel_gateway/internal/channel_service/app"
	"github.com/aradsms/channel_gateway/internal/channel_service/provider"
	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
)

// MaxWebhookBodyBytes caps inbound webhook bodies.
const MaxWebhookBodyBytes = 1 << 20

// InboundProcessor is satisfied by *app.InboundService.
type InboundProcessor interface {
	HandleWebhook(ctx context.Context, req app.InboundRequest) (*app.InboundResult, error)
}

// WebhookVerifier is satisfied by *app.ChannelRouter.
type WebhookVerifier interface {
	VerifyWebhook(channelType string, payload provider.WebhookPayload, signature string) bool
}

type WebhookHandler struct {
	inbound       InboundProcessor
	verifier      WebhookVerifier
	publicBaseURL string
	defaultOrgID  string
	logger        *slog.Logger
}

// NewWebhookHandler builds the provider-facing handler. publicBaseURL is the externally visible
// scheme and host; Twilio signs the full URL the provider called.
func NewWebhookHandler(inbound InboundProcessor, verifier WebhookVerifier, publicBaseURL, defaultOrgID string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		inbound:       inbound,
		verifier:      verifier,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		defaultOrgID:  defaultOrgID,
		logger:        logger.With("handler", "webhook"),
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Get("/webhooks/{channel_type}", h.handleSubscriptionCheck)
	r.Post("/webhooks/{channel_type}", h.handleWebhook)
}

// handleSubscriptionCheck answers the Meta hub.challenge handshake.
func (h *WebhookHandler) handleSubscriptionCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channelType := chi.URLParam(r, "channel_type")
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "channel_type", channelType)

	query := r.URL.Query()
	if query.Get("hub.mode") == "" {
		jsonError(w, r, logger, "hub.mode is required", http.StatusBadRequest)
		return
	}
	if !h.verifier.VerifyWebhook(channelType, provider.WebhookPayload{Query: query, Subscription: true}, "") {
		jsonError(w, r, logger, "Verification failed", http.StatusForbidden)
		return
	}
	logger.InfoContext(ctx, "Webhook subscription verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, query.Get("hub.challenge"))
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channelType := chi.URLParam(r, "channel_type")
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "channel_type", channelType)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, r, logger, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, r, logger, "Failed to read request body", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	payload, err := provider.NewWebhookPayload(r.Header, body, query, h.publicBaseURL+r.URL.RequestURI())
	if err != nil {
		jsonError(w, r, logger, "Invalid payload", http.StatusBadRequest)
		return
	}

	orgID := query.Get("org")
	if orgID == "" {
		orgID = h.defaultOrgID
	}
	result, err := h.inbound.HandleWebhook(ctx, app.InboundRequest{
		OrganizationID: orgID,
		ChannelType:    channelType,
		Header:         r.Header,
		Payload:        payload,
		Signature:      r.Header.Get(provider.SignatureHeader(domain.Normalize(channelType))),
		AgentID:        query.Get("agent"),
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.ErrorContext(ctx, "Webhook processing failed", "error", err)
			jsonError(w, r, logger, "Failed to process webhook", status)
			return
		}
		jsonError(w, r, logger, err.Error(), status)
		return
	}

	if result.Challenge != "" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": result.Challenge})
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{
		Status:         "received",
		ConversationID: result.ConversationID,
		Duplicate:      result.Duplicate,
	})
}
