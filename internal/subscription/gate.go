// Package subscription checks that a user has joined the backup channel
// before they get access to files.
package subscription

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"movielinks-tg-bot/internal/metrics"
	"movielinks-tg-bot/internal/tg"
)

type MemberGetter interface {
	GetChatMember(ctx context.Context, chatID string, userID int64) (*tg.ChatMember, error)
}

type Gate struct {
	api     MemberGetter
	channel string
}

// NewGate checks membership in channel, a numeric id such as -100123 or an
// @username. An empty channel disables the gate.
func NewGate(api MemberGetter, channel string) *Gate {
	return &Gate{api: api, channel: strings.TrimSpace(channel)}
}

func (g *Gate) Enabled() bool { return g != nil && g.channel != "" }

// IsSubscribed fails closed: any lookup error counts as not subscribed.
func (g *Gate) IsSubscribed(ctx context.Context, userID int64) bool {
	if !g.Enabled() {
		metrics.SubscriptionChecks.WithLabelValues("disabled").Inc()
		return true
	}
	m, err := g.api.GetChatMember(ctx, g.channel, userID)
	if err != nil {
		metrics.SubscriptionChecks.WithLabelValues("error").Inc()
		zerolog.Ctx(ctx).Warn().Err(err).Str("channel", g.channel).Msg("membership check failed")
		return false
	}
	ok := IsMemberStatus(m)
	if ok {
		metrics.SubscriptionChecks.WithLabelValues("member").Inc()
	} else {
		metrics.SubscriptionChecks.WithLabelValues("not_member").Inc()
	}
	return ok
}

func IsMemberStatus(m *tg.ChatMember) bool {
	if m == nil {
		return false
	}
	switch m.Status {
	case "creator", "administrator", "member":
		return true
	case "restricted":
		return m.IsMember
	default:
		return false
	}
}
