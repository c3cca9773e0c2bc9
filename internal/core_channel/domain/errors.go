package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownChannel is returned for a channel type with no registered provider or adapter.
	ErrUnknownChannel = errors.New("unknown channel type")
	// ErrWebhookVerification is returned when a signature, timestamp or token does not match.
	ErrWebhookVerification = errors.New("webhook verification failed")
	// ErrInvalidPayload is returned when required webhook structures are missing.
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrNotFound is returned for dead-letter lookups that do not match the caller's organization.
	ErrNotFound = errors.New("resource not found")
	// ErrNotConfigured marks a provider that is missing credentials. It is only ever logged.
	ErrNotConfigured = errors.New("provider not configured")
)

// ProviderErrorKind separates network failures from structured provider rejections.
type ProviderErrorKind string

const (
	ProviderErrorTransport   ProviderErrorKind = "transport"
	ProviderErrorApplication ProviderErrorKind = "application"
)

// ProviderError wraps a failed call to an external messaging API.
// Transport and application errors are retried identically.
type ProviderError struct {
	Channel    ChannelType
	Kind       ProviderErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s provider %s error", e.Channel, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ExhaustedRetriesError is returned once every attempt has failed and the
// message was moved to the dead-letter queue. It unwraps to the last attempt's error.
type ExhaustedRetriesError struct {
	Attempts     int
	DeadLetterID string
	Err          error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("delivery failed after %d attempts (dead letter %s): %v", e.Attempts, e.DeadLetterID, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Err
}
