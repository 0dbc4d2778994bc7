package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// StickyHashOptions carries the fields used to derive a clientKey when the
// caller didn't supply one explicitly.
//
// Lives in the Session Manager rather than a standalone scheduler
// package, since session identity is (account, client-supplied session
// key) and that derivation belongs with the manager that owns it, not a
// scheduler collaborator.
type StickyHashOptions struct {
	UserID       string
	SystemPrompt string
	Messages     []string
}

// GenerateStickyHash derives a stable clientKey. Priority: metadata.user_id
// > system prompt > first user message.
func GenerateStickyHash(opts StickyHashOptions) string {
	var hashInput string
	switch {
	case opts.UserID != "":
		hashInput = "user:" + opts.UserID
	case opts.SystemPrompt != "":
		hashInput = "system:" + truncateForHash(opts.SystemPrompt, 512)
	case len(opts.Messages) > 0 && opts.Messages[0] != "":
		hashInput = "message:" + truncateForHash(opts.Messages[0], 256)
	default:
		return ""
	}
	sum := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(sum[:])
}

func truncateForHash(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
