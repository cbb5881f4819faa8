package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// OpenNDSConfig holds the configuration for an OpenWrt router running OpenNDS.
type OpenNDSConfig struct {
	Address    string // Router SSH address (e.g., "192.168.1.1")
	Port       int    // SSH port (default: 22)
	PrivateKey string // SSH private key (alternative to password)
	Timeout    time.Duration
}

// OpenNDSGateway drives the OpenNDS block list over SSH with ndsctl.
// Login opens the SSH connection; the returned session runs commands on it.
type OpenNDSGateway struct {
	config OpenNDSConfig
	signer ssh.Signer
	logger *zap.Logger
}

// NewOpenNDSGateway creates a new OpenWrt/OpenNDS gateway.
func NewOpenNDSGateway(config OpenNDSConfig, logger *zap.Logger) (*OpenNDSGateway, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("openwrt address is required")
	}
	if config.Port == 0 {
		config.Port = 22
	}
	if config.Timeout <= 0 {
		config.Timeout = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &OpenNDSGateway{config: config, logger: logger}

	if config.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(config.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		g.signer = signer
	}

	return g, nil
}

// Login dials the router. A handshake failure caused by bad credentials is
// ErrAuthRejected; anything else is ErrUnreachable.
func (g *OpenNDSGateway) Login(ctx context.Context, creds Credentials) (Session, error) {
	var authMethods []ssh.AuthMethod
	if creds.Password != "" {
		authMethods = append(authMethods, ssh.Password(creds.Password))
	}
	if g.signer != nil {
		authMethods = append(authMethods, ssh.PublicKeys(g.signer))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("login: %w: no password or private key configured", ErrAuthRejected)
	}

	username := creds.Username
	if username == "" {
		username = "root"
	}

	sshConfig := &ssh.ClientConfig{
		User:            username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Captive-portal routers rarely ship stable host keys
		Timeout:         g.config.Timeout,
	}

	addr := net.JoinHostPort(g.config.Address, fmt.Sprintf("%d", g.config.Port))

	dialer := net.Dialer{Timeout: g.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, unreachable("ssh dial", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("login: %w: %v", ErrAuthRejected, err)
		}
		return nil, unreachable("ssh handshake", err)
	}
	// The login deadline bounds the handshake only; actions carry their own.
	conn.SetDeadline(time.Time{})

	return &openNDSSession{
		client: ssh.NewClient(c, chans, reqs),
		logger: g.logger,
	}, nil
}

type openNDSSession struct {
	client *ssh.Client
	logger *zap.Logger
}

// Blacklist blocks the MAC in OpenNDS and drops any existing authentication.
func (s *openNDSSession) Blacklist(ctx context.Context, macAddress string) error {
	mac := NormalizeMAC(macAddress)
	s.logger.Info("blocking MAC address via OpenNDS", zap.String("mac", mac))

	output, err := s.run(ctx, fmt.Sprintf("ndsctl block %s", mac))
	if err != nil {
		return unreachable("ndsctl block", err)
	}
	if err := s.report(ActionBlacklist, mac, output); err != nil {
		return err
	}

	// Deauth is best effort: the client may not be connected right now.
	if out, err := s.run(ctx, fmt.Sprintf("ndsctl deauth %s", mac)); err != nil {
		s.logger.Debug("ndsctl deauth failed", zap.String("mac", mac), zap.Error(err))
	} else {
		s.logger.Debug("ndsctl deauth", zap.String("mac", mac), zap.String("output", out))
	}

	return nil
}

// Unblacklist removes the MAC from the OpenNDS block list.
func (s *openNDSSession) Unblacklist(ctx context.Context, macAddress string) error {
	mac := NormalizeMAC(macAddress)
	s.logger.Info("unblocking MAC address via OpenNDS", zap.String("mac", mac))

	output, err := s.run(ctx, fmt.Sprintf("ndsctl unblock %s", mac))
	if err != nil {
		return unreachable("ndsctl unblock", err)
	}
	return s.report(ActionUnblacklist, mac, output)
}

func (s *openNDSSession) report(action Action, mac, output string) error {
	result, err := classifyNDSOutput(action, output)
	if err != nil {
		return fmt.Errorf("ndsctl %s %s: %w", action, mac, err)
	}
	switch result {
	case ndsAlready:
		s.logger.Info("MAC already in requested state", zap.String("action", string(action)), zap.String("mac", mac))
	case ndsUnexpected:
		s.logger.Warn("unexpected ndsctl output", zap.String("action", string(action)), zap.String("output", output))
	default:
		s.logger.Info("ndsctl applied", zap.String("action", string(action)), zap.String("mac", mac))
	}
	return nil
}

// ndsResult is how ndsctl answered a block or unblock command.
type ndsResult int

const (
	ndsApplied ndsResult = iota
	ndsAlready
	ndsUnexpected
)

// classifyNDSOutput maps ndsctl output to a result. Only an explicit failure
// is an error; unrecognised output is accepted and reported as unexpected.
func classifyNDSOutput(action Action, output string) (ndsResult, error) {
	out := strings.ToLower(output)

	if action == ActionUnblacklist && (strings.Contains(out, "not found") || strings.Contains(out, "not blocked")) {
		return ndsAlready, nil
	}
	if action == ActionBlacklist && strings.Contains(out, "already") {
		return ndsAlready, nil
	}
	if strings.Contains(out, "failed") {
		return ndsUnexpected, fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(output))
	}

	switch action {
	case ActionBlacklist:
		if strings.Contains(out, "blocked") {
			return ndsApplied, nil
		}
	case ActionUnblacklist:
		if strings.Contains(out, "unblocked") {
			return ndsApplied, nil
		}
	}
	return ndsUnexpected, nil
}

func (s *openNDSSession) Close() error {
	return s.client.Close()
}

// run executes a command on the router over the session's SSH connection.
func (s *openNDSSession) run(ctx context.Context, cmd string) (string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			// ndsctl exits non-zero with useful output for "not found" style answers.
			var exitErr *ssh.ExitError
			if errors.As(r.err, &exitErr) && len(r.output) > 0 {
				return string(r.output), nil
			}
			return "", fmt.Errorf("command failed: %w", r.err)
		}
		return string(r.output), nil
	}
}
