package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// Helpers for walking decoded JSON webhook bodies.

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// firstOf returns the first element of the array at m[key] as an object.
func firstOf(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	arr, ok := m[key].([]any)
	if !ok || len(arr) == 0 {
		return nil
	}
	return asMap(arr[0])
}

// asString renders scalar JSON values as strings. Numbers keep their integer
// form so chat and user ids survive float64 decoding.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// unixTime parses a seconds (or, when millis is set, milliseconds) epoch value.
// Unparseable values fall back to fallback.
func unixTime(v any, millis bool, fallback time.Time) time.Time {
	raw := asString(v)
	if raw == "" {
		return fallback
	}
	// Slack timestamps look like "1700000000.000100".
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		raw = raw[:i]
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	if millis {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func invalidPayload(channel domain.ChannelType, what string) error {
	return fmt.Errorf("%w: %s webhook missing %s", domain.ErrInvalidPayload, channel, what)
}
