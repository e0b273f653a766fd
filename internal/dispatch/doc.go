// Package dispatch routes decoded envelopes to plugin instances.
//
// For each inbound message the dispatcher resolves its target set against the
// registry's published snapshot:
//   - "all" targets every loaded instance whose unit is enabled
//   - a named target must be present in the snapshot, enabled in every
//     namespace it appears in, and backed by a live instance
//
// Unknown and disabled targets are dropped without a reply to the client.
//
// Each target runs in its own goroutine after acquiring one permit from a
// semaphore shared by the whole gateway. Acquisition blocks, which is the
// only backpressure on clients: a connection's read loop does not advance
// until every target of its current message holds a permit.
//
// Failure isolation:
//   - a handler error or panic is logged with the unit's type name and
//     never reaches the caller or sibling handlers
//   - errors wrapping protocol.ErrMissingKey are logged at DEBUG
//   - handlers receive the server context, not the connection's, so a client
//     disconnecting does not cancel work already started
package dispatch
