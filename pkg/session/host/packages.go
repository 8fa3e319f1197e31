package host

import (
	"context"
	"fmt"

	"github.com/athrane/pineapple-sub012/pkg/session"
	"github.com/athrane/pineapple-sub012/pkg/transports/ssh"
)

// packageManager holds the commands of one package manager family.
type packageManager struct {
	name         string
	query        string
	install      string
	remove       string
	versionSplit string
}

var packageManagers = []packageManager{
	{
		name:         "dpkg",
		query:        "dpkg-query -W -f='${Version}' %s",
		install:      "DEBIAN_FRONTEND=noninteractive apt-get install -y %s",
		remove:       "DEBIAN_FRONTEND=noninteractive apt-get remove -y %s",
		versionSplit: "=",
	},
	{
		name:         "rpm",
		query:        "rpm -q --qf '%%{VERSION}-%%{RELEASE}' %s",
		install:      "yum install -y %s",
		remove:       "yum remove -y %s",
		versionSplit: "-",
	},
}

func (m *packageManager) queryVersion(name string) string {
	return fmt.Sprintf(m.query, ssh.ShellQuote(name))
}

func (m *packageManager) installCmd(name, version string) string {
	spec := name
	if version != "" {
		spec = name + m.versionSplit + version
	}
	return fmt.Sprintf(m.install, ssh.ShellQuote(spec))
}

func (m *packageManager) removeCmd(name string) string {
	return fmt.Sprintf(m.remove, ssh.ShellQuote(name))
}

// detectPackageManager detects the host's package manager once per connection.
func (s *Session) detectPackageManager(ctx context.Context) (*packageManager, error) {
	s.mu.RLock()
	cached := s.packages
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	probes := map[string]string{
		"dpkg": "command -v dpkg-query >/dev/null 2>&1",
		"rpm":  "command -v rpm >/dev/null 2>&1",
	}
	for i := range packageManagers {
		m := &packageManagers[i]
		ok, err := s.probe(ctx, probes[m.name])
		if err != nil {
			return nil, err
		}
		if ok {
			s.mu.Lock()
			s.packages = m
			s.mu.Unlock()
			return m, nil
		}
	}
	return nil, fmt.Errorf("no supported package manager: %w", session.ErrUnsupported)
}
