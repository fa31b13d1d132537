// Package transport carries NXS control-plane messages over stream sockets.
//
// The daemon listens on a unix socket (and optionally TCP). Every message
// is a CBOR document behind a 4-byte big-endian length prefix:
//
//	┌────────────────────────────────┐
//	│      CBOR Messages             │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│      unix or TCP stream        │
//	└────────────────────────────────┘
//
// On unix sockets the server records the peer's pid, uid and gid.
//
// Clients redial with exponential backoff until the daemon answers or the
// attempt budget runs out. Liveness over long-lived connections is checked
// with KeepAlive, which sends pings through a caller-supplied function.
package transport
