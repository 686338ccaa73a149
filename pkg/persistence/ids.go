package persistence

import (
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v3"
)

const conversationIDPrefix = "conv_"

// NewConversationID returns conv_<unix millis>_<9 random chars>.
func NewConversationID(now time.Time) string {
	return fmt.Sprintf("%s%d_%s", conversationIDPrefix, now.UnixMilli(), strings.ToLower(shortuuid.New()[:9]))
}

func IsConversationID(id string) bool {
	if !strings.HasPrefix(id, conversationIDPrefix) {
		return false
	}
	parts := strings.Split(strings.TrimPrefix(id, conversationIDPrefix), "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}
	for _, r := range parts[0] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
