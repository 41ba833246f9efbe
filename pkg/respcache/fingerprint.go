package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mihulabs/mihu/pkg/conversation"
)

// Fingerprint identifies a cached reply. Key is the full conversational
// fingerprint; MessageKey is the coarser per-message key used for manual
// administration.
type Fingerprint struct {
	Key        string
	MessageKey string
}

const contextWindow = 3

// NewFingerprint derives the cache key for a turn: session id, the
// rendering of the last three history entries, and the new user message.
// Two different trajectories that arrive at the same question hash to
// different keys; this trades hit rate for precision.
func NewFingerprint(sessionID string, history []conversation.Message, userMessage string) Fingerprint {
	var b strings.Builder
	b.WriteString(sessionID)
	b.WriteByte('\n')

	start := len(history) - contextWindow
	if start < 0 {
		start = 0
	}
	for _, msg := range history[start:] {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	b.WriteString(userMessage)

	return Fingerprint{
		Key:        "chat_" + hashString(b.String()),
		MessageKey: messageKey(userMessage),
	}
}

// MessageFingerprint derives the administration key from the raw message
// text alone, normalized the way the original cache did (lower-cased,
// trimmed).
func MessageFingerprint(rawMessage string) string {
	return messageKey(rawMessage)
}

func messageKey(rawMessage string) string {
	return "msg_" + hashString(strings.ToLower(strings.TrimSpace(rawMessage)))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
