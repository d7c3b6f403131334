package notifier

import "strings"

const (
	KindGroup  = "GroupMessage"
	KindFriend = "FriendMessage"
	KindOther  = "OtherMessage"
)

// Audience is one notification destination.
type Audience struct {
	Platform string
	Kind     string
	Channel  string
}

func (a Audience) String() string {
	return a.Platform + ":" + a.Kind + ":" + a.Channel
}

// NormalizeKind maps kind synonyms to their canonical name. Unknown kinds
// are returned trimmed but otherwise as typed.
func NormalizeKind(kind string) string {
	k := strings.TrimSpace(kind)
	switch strings.ToLower(k) {
	case "group", "groupmessage", "group_message":
		return KindGroup
	case "friend", "private", "privatemessage", "friendmessage":
		return KindFriend
	case "other", "othermessage":
		return KindOther
	}
	return k
}

// Normalizer fills in the platform and kind a raw audience omits.
type Normalizer struct {
	DefaultPlatform string
	DefaultKind     string
}

// Normalize accepts "channel", "kind:channel" or "platform:kind:channel".
// Applying it to its own output returns the same audience.
func (n Normalizer) Normalize(raw string) (Audience, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Audience{}, false
	}
	platform := strings.TrimSpace(n.DefaultPlatform)
	kind := NormalizeKind(n.DefaultKind)

	var channel string
	parts := strings.SplitN(raw, ":", 3)
	switch len(parts) {
	case 1:
		channel = parts[0]
	case 2:
		kind = NormalizeKind(parts[0])
		channel = parts[1]
	default:
		platform = strings.TrimSpace(parts[0])
		kind = NormalizeKind(parts[1])
		channel = parts[2]
	}
	channel = strings.TrimSpace(channel)
	if channel == "" || platform == "" || kind == "" {
		return Audience{}, false
	}
	return Audience{Platform: platform, Kind: kind, Channel: channel}, true
}

// NormalizeString is Normalize rendered back to its canonical string.
func (n Normalizer) NormalizeString(raw string) (string, bool) {
	a, ok := n.Normalize(raw)
	if !ok {
		return "", false
	}
	return a.String(), true
}

// NormalizeList normalizes and dedups a list, keeping first-seen order.
// It reports how many entries were dropped as invalid.
func (n Normalizer) NormalizeList(in []string) (out []string, invalid int) {
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		s, ok := n.NormalizeString(raw)
		if !ok {
			invalid++
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, invalid
}
