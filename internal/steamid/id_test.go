package steamid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountConversions(t *testing.T) {
	t.Parallel()

	id := ID(76561197960287930)
	assert.Equal(t, uint64(22202), id.Account())
	assert.Equal(t, uint32(22202), id.AccountID())
	assert.Equal(t, id, FromAccount(22202))
	assert.Equal(t, "76561197960287930", id.String())
	assert.Equal(t, uint64(0), ID(5).Account())
}

func TestParse(t *testing.T) {
	t.Parallel()

	id, err := Parse(" 76561197960287930 ")
	assert.NoError(t, err)
	assert.Equal(t, ID(76561197960287930), id)

	for _, bad := range []string{"", "abc", "-1", "1e5", "99999999999999999999999"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestPatterns(t *testing.T) {
	t.Parallel()

	id, ok := MatchProfile("https://STEAMCOMMUNITY.com/profiles/76561197960287930/")
	assert.True(t, ok)
	assert.Equal(t, ID(76561197960287930), id)

	_, ok = MatchProfile("https://steamcommunity.com/profiles/7656119796028793")
	assert.False(t, ok)

	name, ok := MatchVanity("https://steamcommunity.com/id/gabelogannewell/")
	assert.True(t, ok)
	assert.Equal(t, "gabelogannewell", name)

	name, ok = MatchVanity("steamcommunity.com/id/robin?l=english")
	assert.True(t, ok)
	assert.Equal(t, "robin", name)

	_, ok = MatchVanity("https://example.com/id/")
	assert.False(t, ok)

	assert.True(t, IsDigits("0123"))
	assert.False(t, IsDigits(""))
	assert.False(t, IsDigits("12a"))
}
