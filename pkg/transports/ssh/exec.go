package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Execute runs cmd within the configured command timeout.
func (c *Client) Execute(ctx context.Context, cmd string) (*ExecResult, error) {
	return c.run(ctx, "exec", cmd, nil)
}

// ExecuteWithSudo runs cmd through sudo. With a sudo password configured it
// is written to stdin; otherwise sudo must not prompt.
func (c *Client) ExecuteWithSudo(ctx context.Context, cmd string) (*ExecResult, error) {
	if pw := c.cfg.SudoPassword; pw != "" {
		return c.run(ctx, "sudo", "sudo -S -p '' "+cmd, strings.NewReader(pw+"\n"))
	}
	return c.run(ctx, "sudo", "sudo -n "+cmd, nil)
}

func (c *Client) run(ctx context.Context, op, cmd string, stdin *strings.Reader) (*ExecResult, error) {
	conn, err := c.client(op)
	if err != nil {
		return nil, err
	}

	sess, err := conn.NewSession()
	if err != nil {
		return nil, &OpError{Op: op, Err: fmt.Errorf("open session: %w", err), Temporary: true, Lost: true}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = stdin
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	res := &ExecResult{Command: cmd, StartedAt: time.Now()}
	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	}

	res.Duration = time.Since(res.StartedAt)
	res.Stdout = strings.TrimSpace(stdout.String())
	res.Stderr = strings.TrimSpace(stderr.String())

	log.Trace().
		Str("host", c.cfg.Host).
		Str("command", cmd).
		Dur("duration", res.Duration).
		Err(runErr).
		Msg("Remote command finished")

	var exit *ssh.ExitError
	switch {
	case runErr == nil:
		return res, nil
	case errors.As(runErr, &exit):
		res.ExitCode = exit.ExitStatus()
		return res, &OpError{Op: op, Err: fmt.Errorf("exit status %d: %s", res.ExitCode, res.Stderr)}
	case errors.Is(runErr, context.DeadlineExceeded), errors.Is(runErr, context.Canceled):
		res.ExitCode = -1
		return res, &OpError{Op: op, Err: runErr, Temporary: true}
	default:
		res.ExitCode = -1
		return res, &OpError{Op: op, Err: runErr, Temporary: true, Lost: true}
	}
}

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
