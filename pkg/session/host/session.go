package host

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/athrane/pineapple-sub012/pkg/accessor"
	"github.com/athrane/pineapple-sub012/pkg/session"
	"github.com/athrane/pineapple-sub012/pkg/transports/ssh"
)

// Kind is the resource kind served by this package.
const Kind = "ssh"

// Namespace is the accessor namespace of host objects.
const Namespace = "host"

// Dialer creates a transport for a configuration.
type Dialer func(cfg *ssh.Config) (ssh.Transport, error)

// DialSSH is the default Dialer.
func DialSSH(cfg *ssh.Config) (ssh.Transport, error) {
	client, err := ssh.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Session reaches one host over an SSH transport.
type Session struct {
	dial     Dialer
	registry *accessor.Registry

	mu        sync.RWMutex
	transport ssh.Transport
	host      *Host
	packages  *packageManager
	connected bool
	editing   bool
}

var (
	_ session.Session = (*Session)(nil)
	_ session.Editor  = (*Session)(nil)
)

// New creates an unconnected session using dial to open transports.
func New(dial Dialer) *Session {
	if dial == nil {
		dial = DialSSH
	}
	return &Session{dial: dial, registry: newRegistry()}
}

// Factory is a session.Factory for Kind.
func Factory() session.Session { return New(DialSSH) }

// Connect opens the SSH transport described by the resource. The URL has
// the form ssh://user@host:port. Resource properties are decoded into the
// transport configuration; the credential takes precedence for
// authentication.
func (s *Session) Connect(ctx context.Context, resource session.Resource, credential session.Credential) error {
	cfg, err := TransportConfig(resource, credential)
	if err != nil {
		return err
	}

	transport, err := s.dial(cfg)
	if err != nil {
		return fmt.Errorf("failed to create transport for %s: %w", resource.ID, err)
	}
	if err := transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Address(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.transport = transport
	s.connected = true
	s.host = &Host{sess: s}
	s.packages = nil

	log.Debug().Str("resource", resource.ID).Str("address", cfg.Address()).Msg("host session connected")
	return nil
}

// TransportConfig builds the SSH configuration for a resource.
func TransportConfig(resource session.Resource, credential session.Credential) (*ssh.Config, error) {
	host, port, user, err := parseURL(resource.URL)
	if err != nil {
		return nil, err
	}

	cfg := ssh.DefaultConfig(host, user)
	if port != 0 {
		cfg.Port = port
	}

	if len(resource.Properties) > 0 {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			WeaklyTypedInput: true,
			Result:           cfg,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(resource.Properties); err != nil {
			return nil, fmt.Errorf("invalid properties for resource %s: %w", resource.ID, err)
		}
	}

	if credential.User != "" {
		cfg.User = credential.User
	}
	switch {
	case credential.Password != "":
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = credential.Password
	case credential.KeyPath != "":
		cfg.AuthMethod = ssh.AuthMethodKey
		cfg.PrivateKeyPath = credential.KeyPath
	}

	if cfg.Host == "" {
		return nil, fmt.Errorf("resource %s: no host in url %q", resource.ID, resource.URL)
	}
	return cfg, nil
}

func parseURL(raw string) (host string, port int, user string, err error) {
	if raw == "" {
		return "", 0, "", nil
	}
	if !strings.Contains(raw, "://") {
		raw = "ssh://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, "", fmt.Errorf("invalid resource url %q: %w", raw, err)
	}
	if u.Scheme != "ssh" {
		return "", 0, "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, "", fmt.Errorf("invalid port in %q: %w", raw, err)
		}
	}
	return u.Hostname(), port, u.User.Username(), nil
}

// Disconnect closes the transport.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	if s.transport == nil {
		return nil
	}
	err := s.transport.Disconnect()
	s.transport = nil
	return err
}

// Root returns the host.
func (s *Session) Root(ctx context.Context) (any, error) {
	if _, err := s.conn(); err != nil {
		return nil, err
	}
	return s.host, nil
}

// Lookup resolves "files", "packages", "services" or "deployments",
// optionally followed by a member key. File keys are absolute paths, so "files//etc/hosts"
// and "files/etc/hosts" both name /etc/hosts.
func (s *Session) Lookup(ctx context.Context, path string) (any, error) {
	if _, err := s.conn(); err != nil {
		return nil, err
	}

	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return s.host, nil
	}

	attr, key, _ := strings.Cut(path, "/")
	coll, err := s.host.collection(attr)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return coll, nil
	}
	if attr == "files" && !strings.HasPrefix(key, "/") {
		key = "/" + key
	}
	return session.Find(ctx, coll, key)
}

// FindChild looks up a member of one of the host's collections.
func (s *Session) FindChild(ctx context.Context, parent any, attribute, value string) (any, error) {
	h, ok := parent.(*Host)
	if !ok {
		return nil, fmt.Errorf("%T has no children: %w", parent, session.ErrUnsupported)
	}
	coll, err := h.collection(attribute)
	if err != nil {
		return nil, err
	}
	return session.Find(ctx, coll, value)
}

// Invoke runs an operation and returns its session.Output. Services
// support start, stop, restart, reload and deploy, which restarts the unit;
// the host supports exec with the command as parameter.
func (s *Session) Invoke(ctx context.Context, obj any, operation string, params ...any) (any, error) {
	switch o := obj.(type) {
	case *Service:
		verb := operation
		if operation == "deploy" {
			verb = "restart"
		}
		switch verb {
		case "start", "stop", "restart", "reload":
			res, err := s.sudo(ctx, "systemctl "+verb+" "+ssh.ShellQuote(o.Name))
			if err != nil {
				return nil, err
			}
			o.reset()
			return output(res), nil
		}
	case *Host:
		if operation == "exec" && len(params) == 1 {
			res, err := s.exec(ctx, fmt.Sprint(params[0]))
			if err != nil {
				return nil, err
			}
			return output(res), nil
		}
	}
	return nil, fmt.Errorf("operation %q on %T: %w", operation, obj, session.ErrUnsupported)
}

// Registry returns the accessors of the host types.
func (s *Session) Registry() *accessor.Registry {
	return s.registry
}

func (s *Session) conn() (ssh.Transport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected || s.transport == nil {
		return nil, session.ErrSessionLost
	}
	return s.transport, nil
}

// exec runs a command, mapping transport loss to session loss. A command
// that exits non-zero returns its result together with a
// *session.CommandError.
func (s *Session) exec(ctx context.Context, cmd string) (*ssh.ExecResult, error) {
	t, err := s.conn()
	if err != nil {
		return nil, err
	}
	res, err := t.Execute(ctx, cmd)
	return res, commandErr(res, err)
}

func (s *Session) sudo(ctx context.Context, cmd string) (*ssh.ExecResult, error) {
	t, err := s.conn()
	if err != nil {
		return nil, err
	}
	res, err := t.ExecuteWithSudo(ctx, cmd)
	return res, commandErr(res, err)
}

func output(res *ssh.ExecResult) session.Output {
	return session.Output{Command: res.Command, Stdout: res.Stdout, Stderr: res.Stderr}
}

// commandErr attaches the captured output to the error of a command that
// ran and failed.
func commandErr(res *ssh.ExecResult, err error) error {
	err = mapErr(err)
	if err == nil || res == nil || errors.Is(err, session.ErrSessionLost) {
		return err
	}
	return &session.CommandError{Output: output(res), ExitCode: res.ExitCode, Err: err}
}

// probe runs a command whose exit status is the answer.
func (s *Session) probe(ctx context.Context, cmd string) (bool, error) {
	res, err := s.exec(ctx, cmd)
	if err == nil {
		return true, nil
	}
	if res != nil && res.ExitCode > 0 {
		return false, nil
	}
	return false, err
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if ssh.IsConnectionLost(err) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", session.ErrSessionLost, err)
	}
	return err
}

// StartEdit opens an edit. Host changes apply immediately.
func (s *Session) StartEdit(ctx context.Context) error {
	if _, err := s.conn(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = true
	return nil
}

// Activate closes the edit.
func (s *Session) Activate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editing {
		return errors.New("no edit in progress")
	}
	s.editing = false
	return nil
}

// CancelEdit closes the edit. Changes already applied to the host stay.
func (s *Session) CancelEdit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing {
		log.Warn().Msg("edit cancelled, changes already applied to the host are kept")
	}
	s.editing = false
	return nil
}

func (s *Session) requireEdit() error {
	if _, err := s.conn(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.editing {
		return errors.New("no edit in progress")
	}
	return nil
}
