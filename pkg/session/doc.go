// Package session defines the boundary between the reconciliation engine
// and a live system.
//
// A Session reaches one running system (an application-server management
// tree, a host over SSH) and exposes its objects as plain Go values whose
// attributes are read through the session's accessor registry. Sessions
// that can change the live system also implement Editor.
//
// Implementations live in sub-packages:
//
//   - mbean: management objects held in memory and persisted as YAML
//   - host: host facts and files reached over SSH
package session
