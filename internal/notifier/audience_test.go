package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	n := Normalizer{DefaultPlatform: "telegram", DefaultKind: "group"}
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"-1001", "telegram:GroupMessage:-1001", true},
		{" 42 ", "telegram:GroupMessage:42", true},
		{"friend:42", "telegram:FriendMessage:42", true},
		{"private:42", "telegram:FriendMessage:42", true},
		{"discord:group_message:9", "discord:GroupMessage:9", true},
		{"discord:OTHER:9", "discord:OtherMessage:9", true},
		{"discord:Thread:9", "discord:Thread:9", true},
		{"a:b:c:d", "a:b:c:d", true},
		{"", "", false},
		{"   ", "", false},
		{"group:", "", false},
		{"discord:group:", "", false},
	}
	for _, tt := range tests {
		got, ok := n.NormalizeString(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := Normalizer{DefaultPlatform: "telegram", DefaultKind: "GroupMessage"}
	for _, in := range []string{"1", "group:2", "friend:3", "discord:private:4", "x:y:z:w", "weird:kind:5"} {
		once, ok := n.NormalizeString(in)
		assert.True(t, ok, in)
		twice, ok := n.NormalizeString(once)
		assert.True(t, ok, in)
		assert.Equal(t, once, twice, in)
	}
}

func TestNormalizeList(t *testing.T) {
	n := Normalizer{DefaultPlatform: "telegram", DefaultKind: "GroupMessage"}
	out, invalid := n.NormalizeList([]string{"1", "telegram:group:1", "", "group:2", "2"})
	assert.Equal(t, []string{"telegram:GroupMessage:1", "telegram:GroupMessage:2"}, out)
	assert.Equal(t, 1, invalid)
}
