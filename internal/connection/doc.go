// Package connection tracks live client connections.
//
// A Conn wraps one websocket and serialises writes to it; handlers running
// concurrently for the same client may all reply through it. The Table maps
// connection ids to live Conns and guarantees ids are unique among live
// entries: the base id is derived from the handshake nonce and origin, and on
// collision a numeric suffix is appended.
package connection
