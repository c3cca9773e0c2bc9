package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, message string, statusCode int) {
	logger.WarnContext(r.Context(), "API Error Response", "status_code", statusCode, "message", message)
	writeJSON(w, statusCode, GenericErrorResponse{Error: message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var exhausted *domain.ExhaustedRetriesError
	var providerErr *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrUnknownChannel), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrWebhookVerification):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.As(err, &exhausted), errors.As(err, &providerErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
