// Package steamid holds the canonical Steam identity type, the friend code
// codec and the URL shapes that carry identities.
package steamid
