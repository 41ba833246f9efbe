package agent

import (
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go"
)

// IsTransient reports whether a provider error is worth retrying:
// rate limits (429) and payload-too-large (413). Everything else,
// including auth failures and server errors, is terminal for one run.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return transientStatus(openaiErr.StatusCode)
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return transientStatus(anthropicErr.StatusCode)
	}

	// Fallback for wrapped or non-SDK transports.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "413") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "request too large")
}

func transientStatus(code int) bool {
	return code == 429 || code == 413
}
