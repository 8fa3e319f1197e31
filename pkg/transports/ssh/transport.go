// Package ssh is the transport of host sessions: commands run over SSH and
// files move over SFTP on one multiplexed connection.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Transport is what a host session needs from a connection.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error

	// Execute runs cmd. A non-zero exit returns the result together with
	// an error.
	Execute(ctx context.Context, cmd string) (*ExecResult, error)
	ExecuteWithSudo(ctx context.Context, cmd string) (*ExecResult, error)

	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile creates parent directories. A zero mode keeps the
	// permissions the file gets on creation.
	WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error
	// Stat reports a missing file as os.ErrNotExist.
	Stat(ctx context.Context, path string) (os.FileInfo, error)
	Chmod(ctx context.Context, path string, mode os.FileMode) error
	Checksum(ctx context.Context, path string) (string, error)
}

// ExecResult is the captured outcome of a remote command. Output is
// trimmed of surrounding whitespace.
type ExecResult struct {
	Command   string
	Stdout    string
	Stderr    string
	ExitCode  int // -1 when the command did not exit
	StartedAt time.Time
	Duration  time.Duration
}

// OpError is returned by every transport operation.
type OpError struct {
	Op  string
	Err error

	Temporary  bool // retrying may succeed
	AuthFailed bool
	Lost       bool // the connection is unusable
}

func (e *OpError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// ErrNotConnected is returned by operations on a closed transport.
var ErrNotConnected = errors.New("not connected")

// IsConnectionLost reports whether err means the connection is unusable.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	var oe *OpError
	if errors.As(err, &oe) && oe.Lost {
		return true
	}
	return errors.Is(err, ErrNotConnected) || errors.Is(err, io.EOF)
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var oe *OpError
	return errors.As(err, &oe) && oe.AuthFailed
}
