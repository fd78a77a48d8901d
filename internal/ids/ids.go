package ids

import (
	"strings"

	"github.com/google/uuid"
)

const (
	completionPrefix = "chatcmpl-"
	toolCallPrefix   = "call_"
	completionIDLen  = 29
)

// New returns a random 32-char lowercase hex id.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewSessionID returns a hyphenated UUID, the format the CLI uses for its own
// session ids.
func NewSessionID() string {
	return uuid.NewString()
}

func NewCompletionID() string {
	return completionPrefix + New()[:completionIDLen]
}

func NewToolCallID() string {
	return toolCallPrefix + New()
}
