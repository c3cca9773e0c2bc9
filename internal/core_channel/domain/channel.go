package domain

import (
	"fmt"
	"strings"
)

// ChannelType identifies an external messaging network.
type ChannelType string

const (
	ChannelWhatsApp ChannelType = "WHATSAPP"
	ChannelTelegram ChannelType = "TELEGRAM"
	ChannelFacebook ChannelType = "FACEBOOK" // Facebook Messenger
	ChannelSMS      ChannelType = "SMS"
	ChannelSlack    ChannelType = "SLACK"
	ChannelEmail    ChannelType = "EMAIL"
	ChannelWebchat  ChannelType = "WEBCHAT"
)

// AllChannelTypes lists every known channel in a stable order.
var AllChannelTypes = []ChannelType{
	ChannelWhatsApp,
	ChannelTelegram,
	ChannelFacebook,
	ChannelSMS,
	ChannelSlack,
	ChannelEmail,
	ChannelWebchat,
}

// Normalize upper-cases and trims a raw channel token without validating it.
func Normalize(raw string) ChannelType {
	return ChannelType(strings.ToUpper(strings.TrimSpace(raw)))
}

// ParseChannelType resolves a case-insensitive token to a known ChannelType.
func ParseChannelType(raw string) (ChannelType, error) {
	ct := Normalize(raw)
	for _, known := range AllChannelTypes {
		if ct == known {
			return ct, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, raw)
}

// HasProvider reports whether the channel is backed by an HTTP provider
// (as opposed to transport-trusted channels such as email and web-chat).
func (c ChannelType) HasProvider() bool {
	switch c {
	case ChannelWhatsApp, ChannelTelegram, ChannelFacebook, ChannelSMS, ChannelSlack:
		return true
	}
	return false
}

func (c ChannelType) String() string {
	return string(c)
}

// ChannelConfig holds per-call credentials (tokens, secrets, ids).
// It is request scoped and never persisted; treat it as read-only.
type ChannelConfig map[string]string

// Get returns the value for key, or fallback when the key is missing or empty.
func (c ChannelConfig) Get(key, fallback string) string {
	if c != nil {
		if v := c[key]; v != "" {
			return v
		}
	}
	return fallback
}

// Clone returns an independent copy, used for dead-letter snapshots.
func (c ChannelConfig) Clone() ChannelConfig {
	if c == nil {
		return nil
	}
	out := make(ChannelConfig, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Well-known ChannelConfig keys.
const (
	ConfigAccessToken   = "accessToken"
	ConfigPhoneNumberID = "phoneNumberId"
	ConfigAppSecret     = "appSecret"
	ConfigVerifyToken   = "verifyToken"
	ConfigPageToken     = "pageAccessToken"
	ConfigBotToken      = "botToken"
	ConfigSecretToken   = "secretToken"
	ConfigSigningSecret = "signingSecret"
	ConfigAccountSID    = "accountSid"
	ConfigAuthToken     = "authToken"
	ConfigFromNumber    = "fromNumber"
	ConfigFromEmail     = "fromEmail"
	ConfigAgentID       = "agentId"
)
