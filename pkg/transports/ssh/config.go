package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the client authenticates.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
	AuthMethodAgent    AuthMethod = "agent"
)

// Config describes one SSH endpoint. The mapstructure tags are the
// property names of an ssh resource in the environment configuration.
type Config struct {
	Host       string     `mapstructure:"host" validate:"required"`
	Port       int        `mapstructure:"port" validate:"min=1,max=65535"`
	User       string     `mapstructure:"user" validate:"required"`
	AuthMethod AuthMethod `mapstructure:"auth" validate:"oneof=password key agent"`

	Password             string `mapstructure:"password" validate:"required_if=AuthMethod password"`
	PrivateKeyPath       string `mapstructure:"key_path"`
	PrivateKeyPassphrase string `mapstructure:"key_passphrase"`
	AgentSocket          string `mapstructure:"agent_socket"`
	SudoPassword         string `mapstructure:"sudo_password"`

	// With StrictHostKeyChecking off, any host key is accepted.
	KnownHostsPath        string `mapstructure:"known_hosts"`
	StrictHostKeyChecking bool   `mapstructure:"strict_host_key_checking"`

	ConnectionTimeout   time.Duration `mapstructure:"connection_timeout" validate:"gt=0"`
	CommandTimeout      time.Duration `mapstructure:"command_timeout" validate:"gt=0"`
	KeepAliveInterval   time.Duration `mapstructure:"keep_alive_interval" validate:"gte=0"`
	MaxKeepAliveRetries int           `mapstructure:"max_keep_alive_retries" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig returns key authentication against port 22 with host keys
// checked against ~/.ssh/known_hosts.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        2 * time.Minute,
		MaxKeepAliveRetries:   3,
	}
}

// Validate checks the configuration. Key authentication without a key path
// falls back to the first default key found in ~/.ssh.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid %s: %s", verrs[0].Field(), describe(verrs[0]))
		}
		return err
	}

	switch c.AuthMethod {
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			c.PrivateKeyPath = defaultKeyPath()
		}
		if c.PrivateKeyPath == "" {
			return errors.New("key authentication needs key_path, and no default key exists")
		}
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return fmt.Errorf("private key: %w", err)
		}
	case AuthMethodAgent:
		if c.agentSocket() == "" {
			return errors.New("agent authentication needs SSH_AUTH_SOCK or agent_socket")
		}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "value is required"
	case "oneof":
		return fmt.Sprintf("%v is not one of %s", fe.Value(), fe.Param())
	default:
		return fmt.Sprintf("%v fails %s=%s", fe.Value(), fe.Tag(), fe.Param())
	}
}

func defaultKeyPath() string {
	dir := filepath.Join(os.Getenv("HOME"), ".ssh")
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		if p := filepath.Join(dir, name); fileExists(p) {
			return p
		}
	}
	return ""
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func (c *Config) agentSocket() string {
	if c.AgentSocket != "" {
		return c.AgentSocket
	}
	return os.Getenv("SSH_AUTH_SOCK")
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ClientConfig builds the x/crypto client configuration. release closes the
// agent connection opened for agent authentication and must be called once
// the handshake is done.
func (c *Config) ClientConfig() (*ssh.ClientConfig, func(), error) {
	auth, release, err := c.authMethods()
	if err != nil {
		return nil, nil, err
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking && c.KnownHostsPath != "" {
		hostKeys, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, release, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, func(), error) {
	noop := func() {}

	switch c.AuthMethod {
	case AuthMethodPassword:
		// Servers often offer keyboard-interactive instead of password.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, noop, nil

	case AuthMethodKey:
		pem, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase == "" {
			signer, err = ssh.ParsePrivateKey(pem)
		} else {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
		}
		if err != nil {
			return nil, nil, fmt.Errorf("private key %s: %w", c.PrivateKeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, noop, nil

	case AuthMethodAgent:
		conn, err := net.Dial("unix", c.agentSocket())
		if err != nil {
			return nil, nil, fmt.Errorf("ssh agent: %w", err)
		}
		release := func() { _ = conn.Close() }
		return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}, release, nil

	default:
		return nil, nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
}
