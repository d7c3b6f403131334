// Package watch polls Steam presence for the watch set and turns changes
// into "started playing" and "stopped playing" notifications.
//
// Each identity moves through Unseen, Idle and Active. The first
// observation only seeds the baseline; later observations emit an event
// when the identity enters or leaves a game.
package watch
