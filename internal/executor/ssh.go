package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/remedystack/remedy-engine/internal/models"
)

const (
	sshKeepAliveInterval = 30 * time.Second
	sshIdleTimeout       = 10 * time.Minute
)

// SSHRunnerConfig carries the credentials shared by all SSH targets.
type SSHRunnerConfig struct {
	User           string
	PrivateKey     []byte
	DefaultPort    int
	ConnectTimeout time.Duration
}

type sshConn struct {
	client   *ssh.Client
	lastUsed time.Time
}

// SSHRunner executes commands on remote hosts over pooled SSH connections.
// Connections are reused per host:port, kept alive in the background, and
// reaped after sitting idle.
type SSHRunner struct {
	logger *slog.Logger
	cfg    SSHRunnerConfig
	signer ssh.Signer

	mu    sync.Mutex
	conns map[string]*sshConn
	stop  chan struct{}
}

// NewSSHRunner parses the private key and starts the idle reaper.
func NewSSHRunner(logger *slog.Logger, cfg SSHRunnerConfig) (*SSHRunner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse ssh private key: %w", err)
	}
	if cfg.DefaultPort == 0 {
		cfg.DefaultPort = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	r := &SSHRunner{
		logger: logger,
		cfg:    cfg,
		signer: signer,
		conns:  make(map[string]*sshConn),
		stop:   make(chan struct{}),
	}
	go r.reapLoop()
	return r, nil
}

func (r *SSHRunner) Run(ctx context.Context, target models.Target, command string) (RunResult, error) {
	client, err := r.connection(target)
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	session, err := client.NewSession()
	if err != nil {
		r.drop(r.key(target))
		return RunResult{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer session.Close()

	type outcome struct {
		output []byte
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, runErr := session.CombinedOutput(command)
		done <- outcome{out, runErr}
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return RunResult{}, ctx.Err()
	case o := <-done:
		result := RunResult{Output: string(o.output)}
		if exitErr, ok := o.err.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, o.err
	}
}

func (r *SSHRunner) key(target models.Target) string {
	port := target.Port
	if port == 0 {
		port = r.cfg.DefaultPort
	}
	return fmt.Sprintf("%s:%d", target.Host, port)
}

func (r *SSHRunner) connection(target models.Target) (*ssh.Client, error) {
	key := r.key(target)

	r.mu.Lock()
	if conn, ok := r.conns[key]; ok {
		_, _, err := conn.client.SendRequest("keepalive@remedy-engine", true, nil)
		if err == nil {
			conn.lastUsed = time.Now()
			r.mu.Unlock()
			return conn.client, nil
		}
		conn.client.Close()
		delete(r.conns, key)
	}
	r.mu.Unlock()

	config := &ssh.ClientConfig{
		User:            r.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(r.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.cfg.ConnectTimeout,
	}

	client, err := ssh.Dial("tcp", key, config)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("ssh connection established", slog.String("target", key))

	r.mu.Lock()
	r.conns[key] = &sshConn{client: client, lastUsed: time.Now()}
	r.mu.Unlock()

	return client, nil
}

func (r *SSHRunner) drop(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[key]; ok {
		conn.client.Close()
		delete(r.conns, key)
	}
}

func (r *SSHRunner) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			for key, conn := range r.conns {
				if time.Since(conn.lastUsed) > sshIdleTimeout {
					conn.client.Close()
					delete(r.conns, key)
					r.logger.Debug("idle ssh connection closed", slog.String("target", key))
				}
			}
			r.mu.Unlock()
		}
	}
}

// Close shuts down the pool and every open connection.
func (r *SSHRunner) Close() {
	close(r.stop)
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, conn := range r.conns {
		conn.client.Close()
		delete(r.conns, key)
	}
}
