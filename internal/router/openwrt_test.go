package router

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// fakeNDS is an SSH server answering ndsctl commands.
type fakeNDS struct {
	mu       sync.Mutex
	commands []string
	reply    func(cmd string) string
}

func (f *fakeNDS) ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func startFakeNDS(t *testing.T, reply func(cmd string) string) (*fakeNDS, OpenNDSConfig) {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "root" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	f := &fakeNDS{reply: reply}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn, cfg)
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return f, OpenNDSConfig{Address: host, Port: p, Timeout: time.Second}
}

func (f *fakeNDS) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range creqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var exec struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &exec); err != nil {
					req.Reply(false, nil)
					return
				}
				req.Reply(true, nil)

				f.mu.Lock()
				f.commands = append(f.commands, exec.Command)
				f.mu.Unlock()

				io.WriteString(ch, f.reply(exec.Command))
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
				return
			}
		}()
	}
}

var ndsCreds = Credentials{Username: "root", Password: "secret"}

func TestClassifyNDSOutput(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		output  string
		want    ndsResult
		wantErr error
	}{
		{"block applied", ActionBlacklist, "Client aa:bb:cc:dd:ee:ff blocked.\n", ndsApplied, nil},
		{"block already", ActionBlacklist, "MAC aa:bb:cc:dd:ee:ff already blocked", ndsAlready, nil},
		{"block failed", ActionBlacklist, "Failed to block MAC aa:bb:cc:dd:ee:ff", 0, ErrRejected},
		{"block not found is not success", ActionBlacklist, "ndsctl: client table not found, failed", 0, ErrRejected},
		{"block unexpected output", ActionBlacklist, "ok", ndsUnexpected, nil},
		{"unblock applied", ActionUnblacklist, "MAC aa:bb:cc:dd:ee:ff unblocked", ndsApplied, nil},
		{"unblock not found", ActionUnblacklist, "MAC aa:bb:cc:dd:ee:ff not found", ndsAlready, nil},
		{"unblock not blocked", ActionUnblacklist, "Client is not blocked", ndsAlready, nil},
		{"unblock failed", ActionUnblacklist, "Failed to unblock MAC", 0, ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := classifyNDSOutput(tt.action, tt.output)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, IsRetryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewOpenNDSGateway(t *testing.T) {
	_, err := NewOpenNDSGateway(OpenNDSConfig{}, nil)
	assert.Error(t, err)

	_, err = NewOpenNDSGateway(OpenNDSConfig{Address: "192.168.1.1", PrivateKey: "not a key"}, nil)
	assert.Error(t, err)

	g, err := NewOpenNDSGateway(OpenNDSConfig{Address: "192.168.1.1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 22, g.config.Port)
}

func TestOpenNDSGateway_ActionsOutliveLoginDeadline(t *testing.T) {
	fake, cfg := startFakeNDS(t, func(cmd string) string { return "Client blocked.\n" })
	g, err := NewOpenNDSGateway(cfg, nil)
	require.NoError(t, err)

	loginCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	sess, err := g.Login(loginCtx, ndsCreds)
	cancel()
	require.NoError(t, err)
	defer sess.Close()

	// Past the login deadline; the action has its own.
	time.Sleep(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sess.Blacklist(ctx, "AA-BB-CC-DD-EE-FF"))
	assert.Equal(t, []string{
		"ndsctl block aa:bb:cc:dd:ee:ff",
		"ndsctl deauth aa:bb:cc:dd:ee:ff",
	}, fake.ran())
}

func TestOpenNDSGateway_Classification(t *testing.T) {
	_, cfg := startFakeNDS(t, func(cmd string) string {
		switch cmd {
		case "ndsctl block aa:bb:cc:dd:ee:01":
			return "Failed to block MAC"
		case "ndsctl unblock aa:bb:cc:dd:ee:02":
			return "MAC aa:bb:cc:dd:ee:02 not found"
		}
		return "ok"
	})
	g, err := NewOpenNDSGateway(cfg, nil)
	require.NoError(t, err)
	e := NewEnforcer(g, ndsCreds, time.Second, nil)
	ctx := context.Background()

	err = e.Blacklist(ctx, "aa:bb:cc:dd:ee:01")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)

	assert.NoError(t, e.Unblacklist(ctx, "aa:bb:cc:dd:ee:02"))
}

func TestOpenNDSGateway_WrongPassword(t *testing.T) {
	fake, cfg := startFakeNDS(t, func(cmd string) string { return "" })
	g, err := NewOpenNDSGateway(cfg, nil)
	require.NoError(t, err)

	_, err = g.Login(context.Background(), Credentials{Username: "root", Password: "nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Empty(t, fake.ran())
}
