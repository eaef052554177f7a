// Package guard enforces per-room live-broadcast limits for watched
// communities.
//
// The engine is built around a single in-memory registry of room states,
// split into an unhandled set and a live set. Startup reconciliation seeds
// the unhandled set from the persisted setup; the detection loop promotes
// rooms it can verify into the live set and opens conflict sessions for
// over-limit rooms; the event dispatcher then keeps the live set current in
// real time, evicting the member whose broadcast pushes a room over its
// limit.
//
// Persistence goes through a cache-aside gateway; failed writes are never
// retried in place but resubmitted by the caller's next natural cycle
// (the following detection pass or the periodic lifecycle sweep).
package guard
