package http

import "github.com/aradsms/channel_gateway/internal/core_channel/domain"

// SendMessageRequest is the body of POST /api/v1/messages/send.
type SendMessageRequest struct {
	ChannelType    string            `json:"channel_type" validate:"required"`
	RecipientID    string            `json:"recipient_id" validate:"required"`
	Content        string            `json:"content" validate:"required,max=4096"`
	Subject        string            `json:"subject,omitempty" validate:"max=255"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Config         map[string]string `json:"config,omitempty"`
}

// SendMessageResponse carries the delivery outcome. DeadLetterID is set when retries were exhausted.
type SendMessageResponse struct {
	Result       *domain.DeliveryResult `json:"result"`
	DeadLetterID string                 `json:"dead_letter_id,omitempty"`
}

type DeadLetterListResponse struct {
	Items []domain.DeadLetterItem `json:"items"`
	Count int                     `json:"count"`
}

type ChannelStatus struct {
	ChannelType domain.ChannelType `json:"channel_type"`
	Configured  bool               `json:"configured"`
}

type ChannelListResponse struct {
	Channels []ChannelStatus `json:"channels"`
}

// WebhookResponse acknowledges an accepted webhook delivery.
type WebhookResponse struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

// GenericErrorResponse for API errors
type GenericErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
