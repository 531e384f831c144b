package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// WebhookSecretPrefix marks per-task shared secrets used by workers to
// authenticate their asynchronous status callbacks
const WebhookSecretPrefix = "whsec_"

// CancelNonceTTL bounds the window in which a cancel nonce is honoured
const CancelNonceTTL = 15 * time.Minute

// NewWebhookSecret returns a prefixed hex token backed by 24 random bytes
func NewWebhookSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return WebhookSecretPrefix + hex.EncodeToString(buf), nil
}

// NewCancelNonce returns a short-lived, low-entropy cancellation capability:
// 4 hex characters from 2 random bytes
func NewCancelNonce() (string, error) {
	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
