// Package notifier routes watch events to chat audiences.
//
// An audience is a "platform:kind:channel" string, for example
// "telegram:GroupMessage:-1001234". Normalizer turns the short forms users
// type ("-1001234", "group:-1001234") into that canonical shape.
//
// # Routing
//
// Router picks the audiences of the identity's group when group routing is
// enabled and that group has subscribers, and the global audiences
// otherwise. Each audience is delivered on its own: a failing chat never
// blocks the others.
//
// # Delivery
//
// Sends are rate limited, retried with exponential backoff plus jitter and
// optionally deduplicated for a window. The last deliveries are kept in an
// in-memory history for diagnostics.
package notifier
