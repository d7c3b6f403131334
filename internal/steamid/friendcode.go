package steamid

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeSymbols  = 9
	codeBits     = 5 * codeSymbols

	// MaxAccount is the largest account value a friend code can carry.
	MaxAccount uint64 = 1<<codeBits - 1

	// checksumWindow covers the bits the checksum is XORed into.
	checksumWindow uint64 = 0xFFFFFFFF
)

var (
	ErrInvalidFriendCode = errors.New("invalid friend code")
	ErrInvalidLength     = fmt.Errorf("%w: length must be 9 symbols", ErrInvalidFriendCode)
	ErrInvalidCharacter  = fmt.Errorf("%w: character outside alphabet", ErrInvalidFriendCode)
	ErrOutOfRange        = errors.New("steamid outside friend code account space")
)

var codeIndex = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(codeAlphabet); i++ {
		t[codeAlphabet[i]] = int8(i)
	}
	return t
}()

// checksum hashes the account with the XOR window cleared, so the value is
// recoverable from an encoded code whose low 32 bits have been scrambled.
func checksum(account uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], account&^checksumWindow)
	sum := md5.Sum(buf[:])
	return uint64(binary.LittleEndian.Uint32(sum[:4]))
}

// EncodeFriendCode renders id as an XXXXX-XXXX friend code.
//
// The checksum hashes the account with its low 32 bits cleared, so every
// code decodes back to the same id. Codes therefore differ from those of
// encoders that hash the full account, and are only meant to round-trip
// through DecodeFriendCode.
func EncodeFriendCode(id ID) (string, error) {
	if id < Base {
		return "", ErrOutOfRange
	}
	account := uint64(id - Base)
	if account > MaxAccount {
		return "", ErrOutOfRange
	}
	v := account ^ checksum(account)

	var out [codeSymbols + 1]byte
	pos := 0
	for i := codeSymbols - 1; i >= 0; i-- {
		out[pos] = codeAlphabet[(v>>(uint(i)*5))&31]
		pos++
		if pos == 5 {
			out[pos] = '-'
			pos++
		}
	}
	return string(out[:]), nil
}

// DecodeFriendCode parses a friend code, with or without the hyphen. Only
// ASCII input is accepted.
func DecodeFriendCode(code string) (ID, error) {
	s := strings.ReplaceAll(strings.TrimSpace(code), "-", "")
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return 0, ErrInvalidCharacter
		}
	}
	if len(s) != codeSymbols {
		return 0, ErrInvalidLength
	}
	s = strings.ToUpper(s)
	var v uint64
	for i := 0; i < codeSymbols; i++ {
		d := codeIndex[s[i]]
		if d < 0 {
			return 0, ErrInvalidCharacter
		}
		v = v<<5 | uint64(d)
	}
	account := v ^ checksum(v)
	return FromAccount(account), nil
}
