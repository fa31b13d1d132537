// Package discovery advertises and browses nxsd control endpoints over
// mDNS/DNS-SD.
//
// Only TCP listeners are advertised; unix sockets are local by nature and
// need no discovery.
//
// # Service type (_nxs._tcp)
//
// Instance name defaults to "nxsd-<hostname>". TXT records:
//   - board: board name from the loaded board file
//   - ver: daemon version
//   - path: unix socket path (optional, for local clients that prefer it)
//
// A host with several interfaces answers once per interface. The browser
// aggregates those answers by instance name and merges their addresses into
// a single Service.
package discovery
