package steamid

import (
	"errors"
	"strconv"
	"strings"
)

// Base is the first SteamID64 of the individual account space.
const Base ID = 76561197960265728

// ID is a canonical 64-bit Steam identity (SteamID64).
type ID uint64

var ErrInvalidID = errors.New("invalid steamid64")

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Account returns the identity with Base removed. Zero for identities below Base.
func (id ID) Account() uint64 {
	if id < Base {
		return 0
	}
	return uint64(id - Base)
}

// AccountID is the 32-bit account number Steam shows as a "friend code".
func (id ID) AccountID() uint32 { return uint32(id.Account()) }

// FromAccount converts an account-space value to a canonical identity.
func FromAccount(account uint64) ID { return Base + ID(account) }

// Parse accepts a decimal SteamID64.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidID
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidID
	}
	return ID(v), nil
}

// IsDigits reports whether s is a non-empty run of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ID) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
