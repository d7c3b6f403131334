package steamid

import "regexp"

var (
	ProfileURL        = regexp.MustCompile(`(?i)steamcommunity\.com/profiles/(\d{17})`)
	VanityURL         = regexp.MustCompile(`(?i)steamcommunity\.com/id/([^/?#\s]+)/?`)
	FriendCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{5}-[A-Za-z0-9]{4}$`)
)

// MatchProfile returns the SteamID64 embedded in a profile URL.
func MatchProfile(s string) (ID, bool) {
	m := ProfileURL.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	id, err := Parse(m[1])
	return id, err == nil
}

// MatchVanity returns the custom URL name of a /id/<name> link.
func MatchVanity(s string) (string, bool) {
	m := VanityURL.FindStringSubmatch(s)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}
