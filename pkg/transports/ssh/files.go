package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

const chunkSize = 32 << 10

// ReadFile reads a remote file.
func (c *Client) ReadFile(ctx context.Context, name string) ([]byte, error) {
	files, err := c.sftp("read")
	if err != nil {
		return nil, err
	}

	f, err := files.Open(name)
	if err != nil {
		return nil, fileErr("read", name, err)
	}
	defer f.Close()

	var sb strings.Builder
	if err := copyChunks(ctx, &sb, f); err != nil {
		return nil, fileErr("read", name, err)
	}
	return []byte(sb.String()), nil
}

// WriteFile replaces a remote file, creating missing parent directories.
func (c *Client) WriteFile(ctx context.Context, name string, data []byte, mode os.FileMode) error {
	files, err := c.sftp("write")
	if err != nil {
		return err
	}

	if dir := path.Dir(name); dir != "/" && dir != "." {
		if err := files.MkdirAll(dir); err != nil {
			return fileErr("mkdir", dir, err)
		}
	}

	f, err := files.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fileErr("write", name, err)
	}
	werr := copyChunks(ctx, f, strings.NewReader(string(data)))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fileErr("write", name, werr)
	}

	if mode != 0 {
		if err := files.Chmod(name, mode); err != nil {
			return fileErr("chmod", name, err)
		}
	}
	log.Debug().Str("host", c.cfg.Host).Str("path", name).Int("bytes", len(data)).Msg("Remote file written")
	return nil
}

// Stat returns remote file information.
func (c *Client) Stat(_ context.Context, name string) (os.FileInfo, error) {
	files, err := c.sftp("stat")
	if err != nil {
		return nil, err
	}
	info, err := files.Stat(name)
	if err != nil {
		return nil, fileErr("stat", name, err)
	}
	return info, nil
}

// Chmod changes remote file permissions.
func (c *Client) Chmod(_ context.Context, name string, mode os.FileMode) error {
	files, err := c.sftp("chmod")
	if err != nil {
		return err
	}
	if err := files.Chmod(name, mode); err != nil {
		return fileErr("chmod", name, err)
	}
	return nil
}

// Checksum returns the hex SHA-256 digest of a remote file, computed on
// the host.
func (c *Client) Checksum(ctx context.Context, name string) (string, error) {
	res, err := c.Execute(ctx, "sha256sum "+ShellQuote(name))
	if err != nil {
		return "", err
	}
	sum, _, _ := strings.Cut(res.Stdout, " ")
	if sum == "" {
		return "", &OpError{Op: "checksum", Err: fmt.Errorf("unexpected sha256sum output %q", res.Stdout)}
	}
	return sum, nil
}

// fileErr keeps os.ErrNotExist in the chain; the sftp client maps
// SSH_FX_NO_SUCH_FILE to it.
func fileErr(op, name string, err error) error {
	lost := errors.Is(err, io.EOF) || errors.Is(err, sftp.ErrSSHFxConnectionLost)
	return &OpError{Op: op, Err: fmt.Errorf("%s: %w", name, err), Lost: lost}
}

// copyChunks copies src to dst, checking ctx between chunks.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
