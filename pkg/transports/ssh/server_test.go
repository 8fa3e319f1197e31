package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// testServer is an in-process SSH server. Commands are answered from a
// fixed script; the sftp subsystem serves the local filesystem.
type testServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	quit     chan struct{}
}

type scriptedReply struct {
	stdout, stderr string
	status         uint32
	delay          time.Duration
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if meta.User() == "deploy" && string(pw) == "secret" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := &testServer{listener: ln, config: cfg, quit: make(chan struct{})}
	go s.accept()
	t.Cleanup(func() {
		close(s.quit)
		_ = ln.Close()
	})
	return s
}

func (s *testServer) accept() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serveConn(nc)
	}
}

func (s *testServer) serveConn(nc net.Conn) {
	defer nc.Close()
	sc, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, chReqs)
	}
}

func (s *testServer) serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			_ = req.Reply(true, nil)
			s.exec(ch, payloadString(req.Payload))
			return
		case "subsystem":
			if payloadString(req.Payload) != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(reqs)
			if srv, err := sftp.NewServer(ch); err == nil {
				_ = srv.Serve()
			}
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) exec(ch ssh.Channel, cmd string) {
	reply := script(cmd)
	if reply.delay > 0 {
		select {
		case <-time.After(reply.delay):
		case <-s.quit:
		}
	}
	_, _ = ch.Write([]byte(reply.stdout))
	_, _ = ch.Stderr().Write([]byte(reply.stderr))

	status := make([]byte, 4)
	binary.BigEndian.PutUint32(status, reply.status)
	_, _ = ch.SendRequest("exit-status", false, status)
}

func script(cmd string) scriptedReply {
	switch {
	case cmd == "hostname":
		return scriptedReply{stdout: "db1\n"}
	case cmd == "cat /missing":
		return scriptedReply{stderr: "cat: /missing: No such file or directory\n", status: 1}
	case strings.HasPrefix(cmd, "sleep "):
		return scriptedReply{delay: 2 * time.Second}
	case strings.HasPrefix(cmd, "sha256sum "):
		return scriptedReply{stdout: "9f86d081884c7d65  " + strings.TrimPrefix(cmd, "sha256sum ") + "\n"}
	default:
		return scriptedReply{stdout: "ran: " + cmd + "\n"}
	}
}

// payloadString decodes the length-prefixed string of exec and subsystem
// requests.
func payloadString(p []byte) string {
	if len(p) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(p)
	if int(n) > len(p)-4 {
		return ""
	}
	return string(p[4 : 4+n])
}

// clientConfig returns a password configuration for the server.
func (s *testServer) clientConfig() *Config {
	host, port, _ := net.SplitHostPort(s.listener.Addr().String())
	p, _ := strconv.Atoi(port)

	cfg := DefaultConfig(host, "deploy")
	cfg.Port = p
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "secret"
	cfg.StrictHostKeyChecking = false
	cfg.ConnectionTimeout = 5 * time.Second
	return cfg
}

func (s *testServer) connect(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(s.clientConfig())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

// writeTestKey writes a fresh unencrypted ed25519 key in OpenSSH format.
func writeTestKey(t *testing.T, dir, name string) string {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
