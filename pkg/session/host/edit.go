package host

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/athrane/pineapple-sub012/pkg/accessor"
	"github.com/athrane/pineapple-sub012/pkg/session"
	"github.com/athrane/pineapple-sub012/pkg/transports/ssh"
)

// SetAttribute changes the host. Supported attributes are content, mode
// and owner of files; installed and version of packages; active and
// enabled of services.
func (s *Session) SetAttribute(ctx context.Context, obj any, attribute string, value any) error {
	if err := s.requireEdit(); err != nil {
		return err
	}

	attr := accessor.NormalizeName(attribute)
	var err error
	switch o := obj.(type) {
	case *RemoteFile:
		err = s.setFileAttribute(ctx, o, attr, value)
	case *Package:
		err = s.setPackageAttribute(ctx, o, attr, value)
	case *Service:
		err = s.setServiceAttribute(ctx, o, attr, value)
	default:
		err = fmt.Errorf("%T: %w", obj, session.ErrUnsupported)
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", attribute, err)
	}

	log.Debug().Str("object", fmt.Sprintf("%T", obj)).Str("attribute", attribute).Msg("host attribute set")
	return nil
}

func (s *Session) setFileAttribute(ctx context.Context, f *RemoteFile, attr string, value any) error {
	t, err := s.conn()
	if err != nil {
		return err
	}

	switch attr {
	case "content":
		if err := t.WriteFile(ctx, f.Path, []byte(fmt.Sprint(value)), 0); err != nil {
			return mapErr(err)
		}
	case "mode":
		mode, err := parseMode(value)
		if err != nil {
			return err
		}
		if !f.Exists() {
			// WriteFile applies the mode when the file is created.
			if err := t.WriteFile(ctx, f.Path, nil, mode); err != nil {
				return mapErr(err)
			}
		} else if err := t.Chmod(ctx, f.Path, mode); err != nil {
			return mapErr(err)
		}
	case "owner":
		if _, err := s.sudo(ctx, "chown "+ssh.ShellQuote(fmt.Sprint(value))+" "+ssh.ShellQuote(f.Path)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("file attribute %q: %w", attr, session.ErrUnsupported)
	}

	info, err := t.Stat(ctx, f.Path)
	if err != nil {
		return mapErr(err)
	}
	f.info = info
	return nil
}

func (s *Session) setPackageAttribute(ctx context.Context, p *Package, attr string, value any) error {
	manager, err := s.detectPackageManager(ctx)
	if err != nil {
		return err
	}

	switch attr {
	case "installed":
		install, err := strconv.ParseBool(fmt.Sprint(value))
		if err != nil {
			return fmt.Errorf("installed must be a boolean: %w", err)
		}
		cmd := manager.removeCmd(p.Name)
		if install {
			cmd = manager.installCmd(p.Name, "")
		}
		if _, err := s.sudo(ctx, cmd); err != nil {
			return err
		}
		p.Installed = install
	case "version":
		version := fmt.Sprint(value)
		if _, err := s.sudo(ctx, manager.installCmd(p.Name, version)); err != nil {
			return err
		}
		p.Version = version
		p.Installed = true
	default:
		return fmt.Errorf("package attribute %q: %w", attr, session.ErrUnsupported)
	}
	return nil
}

func (s *Session) setServiceAttribute(ctx context.Context, svc *Service, attr string, value any) error {
	on, err := strconv.ParseBool(fmt.Sprint(value))
	if err != nil {
		return fmt.Errorf("%s must be a boolean: %w", attr, err)
	}

	var verb string
	switch attr {
	case "active":
		verb = "stop"
		if on {
			verb = "start"
		}
	case "enabled":
		verb = "disable"
		if on {
			verb = "enable"
		}
	default:
		return fmt.Errorf("service attribute %q: %w", attr, session.ErrUnsupported)
	}

	if _, err := s.sudo(ctx, "systemctl "+verb+" "+ssh.ShellQuote(svc.Name)); err != nil {
		return err
	}
	svc.reset()
	return nil
}

// CreateChild returns a placeholder for a missing file or package. The
// object is materialized by the attribute writes that follow. Services
// cannot be created.
func (s *Session) CreateChild(ctx context.Context, parent any, attribute, key string) (any, error) {
	if err := s.requireEdit(); err != nil {
		return nil, err
	}
	if _, ok := parent.(*Host); !ok {
		return nil, fmt.Errorf("%T has no children: %w", parent, session.ErrUnsupported)
	}

	switch attribute {
	case "files":
		if !strings.HasPrefix(key, "/") {
			return nil, fmt.Errorf("file path %q is not absolute", key)
		}
		return &RemoteFile{sess: s, Path: key}, nil
	case "packages":
		return &Package{Name: key}, nil
	default:
		return nil, fmt.Errorf("create %s %q: %w", attribute, key, session.ErrUnsupported)
	}
}

// parseMode accepts octal strings ("0644", "644") and integers. YAML and
// CUE decode an unquoted 0644 as the integer 420, which is taken as is.
func parseMode(value any) (os.FileMode, error) {
	switch v := value.(type) {
	case int:
		return os.FileMode(v).Perm(), nil
	case int64:
		return os.FileMode(v).Perm(), nil
	case string:
		n, err := strconv.ParseUint(v, 8, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid file mode %q: %w", v, err)
		}
		return os.FileMode(n).Perm(), nil
	default:
		return 0, fmt.Errorf("invalid file mode %v (%T)", value, value)
	}
}
