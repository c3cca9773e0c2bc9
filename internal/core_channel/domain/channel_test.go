package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannelType(t *testing.T) {
	tests := []struct {
		raw     string
		want    ChannelType
		wantErr bool
	}{
		{"whatsapp", ChannelWhatsApp, false},
		{"  Telegram ", ChannelTelegram, false},
		{"FACEBOOK", ChannelFacebook, false},
		{"webchat", ChannelWebchat, false},
		{"pigeon", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseChannelType(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownChannel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChannelType_HasProvider(t *testing.T) {
	for _, ct := range AllChannelTypes {
		want := ct != ChannelEmail && ct != ChannelWebchat
		assert.Equal(t, want, ct.HasProvider(), ct)
	}
}

func TestChannelConfig(t *testing.T) {
	var empty ChannelConfig
	assert.Equal(t, "fallback", empty.Get(ConfigBotToken, "fallback"))
	assert.Nil(t, empty.Clone())

	cfg := ChannelConfig{ConfigBotToken: "org-token", ConfigSecretToken: ""}
	assert.Equal(t, "org-token", cfg.Get(ConfigBotToken, "default"))
	assert.Equal(t, "default", cfg.Get(ConfigSecretToken, "default"))

	clone := cfg.Clone()
	clone[ConfigBotToken] = "changed"
	assert.Equal(t, "org-token", cfg[ConfigBotToken])
}

func TestExhaustedRetriesError_Unwraps(t *testing.T) {
	provErr := &ProviderError{Channel: ChannelSlack, Kind: ProviderErrorApplication, StatusCode: 200, Message: "channel_not_found"}
	err := fmt.Errorf("send: %w", &ExhaustedRetriesError{Attempts: 3, DeadLetterID: "01HZX", Err: provErr})

	var exhausted *ExhaustedRetriesError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)

	var got *ProviderError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, ProviderErrorApplication, got.Kind)
	assert.Equal(t, "SLACK provider application error (status 200): channel_not_found", got.Error())
	assert.Contains(t, err.Error(), "after 3 attempts (dead letter 01HZX)")
}
