package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/athrane/pineapple-sub012/pkg/session"
	"github.com/athrane/pineapple-sub012/pkg/transports/ssh"
)

// Host is the root object of a host session. Facts are read on first
// access and cached for the lifetime of the session.
type Host struct {
	sess *Session

	mu    sync.Mutex
	facts map[string]string
	os    *OSInfo
}

// fact runs cmd once and caches its trimmed output.
func (h *Host) fact(ctx context.Context, key, cmd string) (string, error) {
	h.mu.Lock()
	if v, ok := h.facts[key]; ok {
		h.mu.Unlock()
		return v, nil
	}
	h.mu.Unlock()

	res, err := h.sess.exec(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("fact %s: %w", key, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.facts == nil {
		h.facts = make(map[string]string)
	}
	h.facts[key] = res.Stdout
	return res.Stdout, nil
}

// Hostname returns the host name.
func (h *Host) Hostname(ctx context.Context) (string, error) {
	return h.fact(ctx, "hostname", "hostname")
}

// Kernel returns the kernel release.
func (h *Host) Kernel(ctx context.Context) (string, error) {
	return h.fact(ctx, "kernel", "uname -r")
}

// Architecture returns the machine architecture.
func (h *Host) Architecture(ctx context.Context) (string, error) {
	return h.fact(ctx, "architecture", "uname -m")
}

// CPUCount returns the number of online processors.
func (h *Host) CPUCount(ctx context.Context) (int, error) {
	out, err := h.fact(ctx, "cpu-count", "nproc")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(out))
}

// MemoryTotalKB returns MemTotal from /proc/meminfo in kilobytes.
func (h *Host) MemoryTotalKB(ctx context.Context) (int, error) {
	out, err := h.fact(ctx, "meminfo", "cat /proc/meminfo")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "MemTotal:"))
		if len(fields) == 0 {
			break
		}
		return strconv.Atoi(fields[0])
	}
	return 0, errors.New("MemTotal not found in /proc/meminfo")
}

// OS returns the operating system release information.
func (h *Host) OS(ctx context.Context) (*OSInfo, error) {
	h.mu.Lock()
	cached := h.os
	h.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	out, err := h.fact(ctx, "os-release", "cat /etc/os-release 2>/dev/null || cat /usr/lib/os-release")
	if err != nil {
		return nil, err
	}
	info := ParseOSRelease(out)

	h.mu.Lock()
	h.os = info
	h.mu.Unlock()
	return info, nil
}

// Files returns the host's file collection.
func (h *Host) Files() *Files { return &Files{sess: h.sess} }

// Packages returns the host's package collection.
func (h *Host) Packages() *Packages { return &Packages{sess: h.sess} }

// Services returns the host's service collection.
func (h *Host) Services() *Services { return &Services{sess: h.sess} }

func (h *Host) collection(attr string) (session.Finder, error) {
	switch attr {
	case "files":
		return h.Files(), nil
	case "packages":
		return h.Packages(), nil
	case "services", "deployments":
		return h.Services(), nil
	default:
		return nil, fmt.Errorf("host has no %q: %w", attr, session.ErrNotFound)
	}
}

// OSInfo is the content of /etc/os-release.
type OSInfo struct {
	ID      string
	Name    string
	Version string
	IDLike  []string
}

// ParseOSRelease parses os-release KEY=value lines.
func ParseOSRelease(content string) *OSInfo {
	info := &OSInfo{}
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "ID":
			info.ID = value
		case "NAME":
			info.Name = value
		case "VERSION_ID":
			info.Version = value
		case "ID_LIKE":
			info.IDLike = strings.Fields(value)
		}
	}
	return info
}

// Files looks up remote files by absolute path.
type Files struct {
	sess *Session
}

// Find implements session.Finder. A missing file yields
// session.ErrNotFound.
func (f *Files) Find(ctx context.Context, path string) (any, error) {
	t, err := f.sess.conn()
	if err != nil {
		return nil, err
	}
	info, err := t.Stat(ctx, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("file %s: %w", path, session.ErrNotFound)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &RemoteFile{sess: f.sess, Path: path, info: info}, nil
}

// RemoteFile is a file on the host.
type RemoteFile struct {
	sess *Session
	Path string
	info os.FileInfo
}

// Identity implements session.Identified.
func (f *RemoteFile) Identity() string { return f.Path }

// Exists reports whether the file exists.
func (f *RemoteFile) Exists() bool { return f.info != nil }

// Content reads the file.
func (f *RemoteFile) Content(ctx context.Context) (string, error) {
	t, err := f.sess.conn()
	if err != nil {
		return "", err
	}
	data, err := t.ReadFile(ctx, f.Path)
	if err != nil {
		return "", mapErr(err)
	}
	return string(data), nil
}

// Mode returns the permission bits in octal notation, for example "0644".
func (f *RemoteFile) Mode() string {
	if f.info == nil {
		return ""
	}
	return fmt.Sprintf("%04o", f.info.Mode().Perm())
}

// Owner returns the owning user name.
func (f *RemoteFile) Owner(ctx context.Context) (string, error) {
	res, err := f.sess.exec(ctx, "stat -c %U "+ssh.ShellQuote(f.Path))
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// Checksum returns the SHA-256 checksum of the file.
func (f *RemoteFile) Checksum(ctx context.Context) (string, error) {
	t, err := f.sess.conn()
	if err != nil {
		return "", err
	}
	sum, err := t.Checksum(ctx, f.Path)
	return sum, mapErr(err)
}

// Packages looks up installed packages by name.
type Packages struct {
	sess *Session
}

// Find implements session.Finder. A package that is not installed yields
// session.ErrNotFound.
func (p *Packages) Find(ctx context.Context, name string) (any, error) {
	manager, err := p.sess.detectPackageManager(ctx)
	if err != nil {
		return nil, err
	}

	res, err := p.sess.exec(ctx, manager.queryVersion(name))
	if err != nil {
		if res != nil && res.ExitCode > 0 {
			return nil, fmt.Errorf("package %s: %w", name, session.ErrNotFound)
		}
		return nil, err
	}

	version := strings.TrimSpace(res.Stdout)
	if version == "" {
		return nil, fmt.Errorf("package %s: %w", name, session.ErrNotFound)
	}
	return &Package{Name: name, Version: version, Installed: true}, nil
}

// Package is an installable package.
type Package struct {
	Name      string
	Version   string
	Installed bool
}

// Identity implements session.Identified.
func (p *Package) Identity() string { return p.Name }

// Services looks up systemd units by name.
type Services struct {
	sess *Session
}

// Find implements session.Finder. An unknown unit yields
// session.ErrNotFound.
func (s *Services) Find(ctx context.Context, name string) (any, error) {
	known, err := s.sess.probe(ctx, "systemctl cat "+ssh.ShellQuote(name)+" >/dev/null 2>&1")
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("service %s: %w", name, session.ErrNotFound)
	}
	return &Service{sess: s.sess, Name: name}, nil
}

// Service is a systemd unit.
type Service struct {
	sess *Session
	Name string

	mu      sync.Mutex
	active  *bool
	enabled *bool
}

// Identity implements session.Identified.
func (s *Service) Identity() string { return s.Name }

// Active reports whether the unit is running.
func (s *Service) Active(ctx context.Context) (bool, error) {
	return s.cachedProbe(ctx, &s.active, "systemctl is-active --quiet "+ssh.ShellQuote(s.Name))
}

// Enabled reports whether the unit starts at boot.
func (s *Service) Enabled(ctx context.Context) (bool, error) {
	return s.cachedProbe(ctx, &s.enabled, "systemctl is-enabled --quiet "+ssh.ShellQuote(s.Name))
}

func (s *Service) cachedProbe(ctx context.Context, slot **bool, cmd string) (bool, error) {
	s.mu.Lock()
	if *slot != nil {
		v := **slot
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err := s.sess.probe(ctx, cmd)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	*slot = &v
	s.mu.Unlock()
	return v, nil
}

func (s *Service) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.enabled = nil
}

var (
	_ session.Finder     = (*Files)(nil)
	_ session.Finder     = (*Packages)(nil)
	_ session.Finder     = (*Services)(nil)
	_ session.Identified = (*RemoteFile)(nil)
	_ session.Identified = (*Package)(nil)
	_ session.Identified = (*Service)(nil)
)
