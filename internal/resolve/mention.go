package resolve

import "regexp"

var (
	// exact forms of a mention argument
	mentionExact = []*regexp.Regexp{
		regexp.MustCompile(`^@(\d+)$`),
		regexp.MustCompile(`^@.*\((\d+)\)$`),
		regexp.MustCompile(`^\[At:(\d+)\]$`),
		regexp.MustCompile(`^\[CQ:at,qq=(\d+)\]$`),
		regexp.MustCompile(`^<@!?(\d+)>$`),
		regexp.MustCompile(`^tg://user\?id=(\d+)$`),
	}
	// mentions embedded in longer text
	mentionSearch = []*regexp.Regexp{
		regexp.MustCompile(`@[^\s(]*\((\d+)\)`),
		regexp.MustCompile(`\[At:(\d+)\]`),
		regexp.MustCompile(`\[CQ:at,qq=(\d+)\]`),
		regexp.MustCompile(`<@!?(\d+)>`),
		regexp.MustCompile(`tg://user\?id=(\d+)`),
	}
)

// MentionedUser extracts a user ID from a mention argument.
func MentionedUser(s string) (string, bool) {
	for _, re := range mentionExact {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return findMention(s)
}

func findMention(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, re := range mentionSearch {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}
