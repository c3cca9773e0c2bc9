package provider

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// secureEqual compares two secrets in constant time. Empty expected values never match.
func secureEqual(got, expected string) bool {
	if expected == "" {
		return false
	}
	return hmac.Equal([]byte(got), []byte(expected))
}

// hubSignature returns "sha256=<hex>" of the HMAC-SHA256 of body.
func hubSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// slackSignature returns "v0=<hex>" of the HMAC-SHA256 of "v0:{ts}:{body}".
func slackSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// twilioSignature returns base64(HMAC-SHA1(url + k1v1k2v2...)) with keys sorted ascending.
func twilioSignature(authToken, webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(webhookURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Exported signers let callers and tests produce valid webhook signatures.

// SignHub signs a WhatsApp or Messenger webhook body.
func SignHub(appSecret string, body []byte) string { return hubSignature(appSecret, body) }

// SignSlack signs a Slack request body for the given timestamp.
func SignSlack(signingSecret, timestamp string, body []byte) string {
	return slackSignature(signingSecret, timestamp, body)
}

// SignTwilio signs a Twilio form webhook.
func SignTwilio(authToken, webhookURL string, params url.Values) string {
	return twilioSignature(authToken, webhookURL, params)
}
