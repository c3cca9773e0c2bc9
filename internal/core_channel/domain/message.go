package domain

import "time"

// ContentType is the kind of payload carried by a unified message.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentFile     ContentType = "file"
	ContentAudio    ContentType = "audio"
	ContentVideo    ContentType = "video"
	ContentLocation ContentType = "location"
	ContentHTML     ContentType = "html"
)

// Attachment is a media item referenced by a message.
type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// UnifiedIncomingMessage is the canonical cross-channel shape of an inbound message.
// Only channel adapters produce it.
type UnifiedIncomingMessage struct {
	Content               string         `json:"content"`
	ContentType           ContentType    `json:"contentType"`
	ChannelType           ChannelType    `json:"channelType"`
	SenderID              string         `json:"senderId"`
	SenderName            string         `json:"senderName,omitempty"`
	SenderEmail           string         `json:"senderEmail,omitempty"`
	ChannelConversationID string         `json:"channelConversationId,omitempty"`
	ChannelMessageID      string         `json:"channelMessageId,omitempty"`
	Timestamp             time.Time      `json:"timestamp"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	Attachments           []Attachment   `json:"attachments,omitempty"`
}

// UnifiedOutgoingMessage is the canonical cross-channel shape of an outbound message.
type UnifiedOutgoingMessage struct {
	Content               string         `json:"content"`
	ContentType           ContentType    `json:"contentType"`
	ChannelType           ChannelType    `json:"channelType"`
	Subject               string         `json:"subject,omitempty"`
	ChannelConversationID string         `json:"channelConversationId,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	Attachments           []Attachment   `json:"attachments,omitempty"`
}

// AgentReply is the answer produced by the conversational agent for one inbound message.
type AgentReply struct {
	Content string   `json:"content"`
	Sources []string `json:"sources,omitempty"`
}
