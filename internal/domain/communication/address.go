package communication

import (
	"strings"

	"fitclub_comms/internal/domain/profile"
)

// AddressFor returns the profile's address on ch, or "" if unreachable there.
func AddressFor(p *profile.Profile, ch Channel) string {
	if p == nil {
		return ""
	}
	switch ch {
	case ChannelEmail:
		return strings.TrimSpace(p.Email)
	case ChannelSMS:
		return strings.TrimSpace(p.Phone)
	case ChannelPush:
		return strings.TrimSpace(p.PushToken)
	}
	return ""
}

// Reachable reports whether the profile has an address on any channel.
func Reachable(p *profile.Profile) bool {
	for _, ch := range AllChannels {
		if AddressFor(p, ch) != "" {
			return true
		}
	}
	return false
}
