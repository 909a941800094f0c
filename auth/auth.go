// Package auth decides which chat users may drive Claude.
package auth

import (
	"log/slog"
	"strings"

	"github.com/zhubert/plural-bot/logger"
)

// Allowlist authorizes a fixed set of user IDs.
type Allowlist struct {
	ids map[string]struct{}
	log *slog.Logger
}

// NewAllowlist builds an Allowlist from user IDs. Blank entries are ignored.
func NewAllowlist(userIDs []string) *Allowlist {
	ids := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			ids[id] = struct{}{}
		}
	}
	return &Allowlist{ids: ids, log: logger.WithComponent("auth")}
}

// IsAllowed reports whether userID may use the bot. Refusals are logged.
func (a *Allowlist) IsAllowed(userID string) bool {
	if _, ok := a.ids[userID]; ok {
		return true
	}
	a.log.Warn("unauthorized user attempted to use bot", "userID", userID)
	return false
}

// Len returns the number of allowed users.
func (a *Allowlist) Len() int {
	return len(a.ids)
}
