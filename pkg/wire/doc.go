// Package wire defines the CBOR control-plane messages spoken between nxsd
// and its clients.
//
// Every message is a CBOR map with integer keys, sent inside a
// length-prefixed frame (see package transport).
//
// # Message Types
//
//   - Request: client to daemon, carries an Operation and a payload
//   - Response: daemon to client, carries a Status and a payload
//   - Notification: daemon to client, messageId 0, one frame tick of a
//     subscribed function
//
// Payloads travel as embedded CBOR so each operation can decode into its own
// typed struct with [Request.DecodePayload] and [Response.DecodePayload].
package wire
