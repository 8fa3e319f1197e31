// Package host implements a session over a single host reached by SSH.
//
// The root object is the host itself. Its facts (hostname, kernel,
// architecture, os) are read lazily with shell commands and cached for the
// session. Files, packages and services are collections looked up by key:
// an absolute path, a package name or a systemd unit name. File content is
// transferred over SFTP. Deployments are the host's services; deploying a
// module restarts its unit.
//
// Commands that fail return a *session.CommandError carrying their output.
//
// Writes through the Editor interface apply to the host immediately.
// Activate and CancelEdit only close the edit; nothing is rolled back.
package host
