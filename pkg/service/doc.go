// Package service exposes a resource manager over the NXS control plane.
//
// A Service accepts transport connections and runs one Session per
// connection. Requests are dispatched to the manager:
//
//	RequestFunction / RemoveFunction     graph construction and teardown
//	Connect / Start / Stop / Disconnect  lifecycle by handle
//	SetControl / GetControl              node controls by element position
//	Query / ListFunctions / ListNodes    introspection
//	Subscribe / Unsubscribe              frame-tick notifications
//
// Functions requested over a connection are built with the user requester
// and owned by that session. When the connection closes, the session's
// subscriptions are cancelled and its functions removed, newest first.
// Functions from the board description are kernel functions: no session
// may remove them, and only a root peer may drive their lifecycle.
//
// Client is the matching caller side. It correlates responses by message
// id and delivers notifications to a handler.
package service
