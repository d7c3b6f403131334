package resolve

import (
	"errors"

	"steamwatch/internal/steamapi"
	"steamwatch/internal/steamid"
)

var (
	ErrInvalidInput        = errors.New("unrecognized steam identifier")
	ErrNotBound            = errors.New("requester has no binding")
	ErrNoBindingForUser    = errors.New("user has no binding")
	ErrAmbiguousName       = errors.New("display name matches more than one user")
	ErrVanityNotFound      = errors.New("vanity name not found")
	ErrNoAPIKey            = steamapi.ErrNoAPIKey
	ErrInvalidFriendCode   = steamid.ErrInvalidFriendCode
	ErrShortLinkUnresolved = errors.New("short link did not lead to a steam profile")
	ErrUpstreamUnavailable = steamapi.ErrUpstreamUnavailable
	ErrPermissionDenied    = errors.New("permission denied")
)

// Message turns a resolution error into a reply for the requester. Unknown
// errors get a generic text so transport details never reach chat.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotBound):
		return "You have not bound a Steam account yet. Use /sw bind <steamid> first."
	case errors.Is(err, ErrNoBindingForUser):
		return "No binding found for that user."
	case errors.Is(err, ErrAmbiguousName):
		return "That name matches several users; mention them directly instead."
	case errors.Is(err, ErrNoAPIKey):
		return "Steam Web API key is not configured."
	case errors.Is(err, ErrVanityNotFound):
		return "Could not resolve that custom profile URL."
	case errors.Is(err, ErrInvalidFriendCode):
		return "Invalid friend code."
	case errors.Is(err, ErrShortLinkUnresolved):
		return "That link does not lead to a Steam profile."
	case errors.Is(err, ErrPermissionDenied):
		return "Permission denied."
	case errors.Is(err, ErrInvalidInput):
		return "Unrecognized Steam identifier. Use a SteamID64, profile URL, custom URL, friend code or mention."
	default:
		return "Could not fetch data from Steam. Try again later."
	}
}
