// Package tunnel makes mysql connections through ssh bastion. Tunnel registers itself as a custom network
// for go-sql-driver/mysql, so any dsn with this network name dials the database address from the bastion.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/fileutils"
	"github.com/go-sql-driver/mysql"
	"golang.org/x/crypto/ssh"
)

// Tunnel keeps a single ssh connection to bastion, opened on the first dial and shared by all
// database connections made through it.
type Tunnel struct {
	host    string
	user    string
	keyFile string
	timeout time.Duration

	mu     sync.Mutex
	client *ssh.Client
}

// New makes Tunnel for the bastion host with user and private key file. Connection is lazy.
func New(host, user, keyFile string, timeout time.Duration) (*Tunnel, error) {
	if !fileutils.IsFile(keyFile) {
		return nil, fmt.Errorf("private key file %q does not exist", keyFile)
	}
	if !strings.Contains(host, ":") {
		host += ":22"
	}
	return &Tunnel{host: host, user: user, keyFile: keyFile, timeout: timeout}, nil
}

// Register makes the tunnel available to mysql driver as network netName
func (t *Tunnel) Register(netName string) {
	mysql.RegisterDialContext(netName, t.DialContext)
}

// DialContext connects to addr from the bastion side. If the cached ssh connection is broken, i.e. dropped
// by the bastion, it is replaced with a new one and dial retried once. Channel rejected by the bastion is
// returned as is.
func (t *Tunnel) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	client, err := t.sshClient(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.DialContext(ctx, "tcp", addr)
	var chErr *ssh.OpenChannelError
	if err != nil && !errors.As(err, &chErr) && ctx.Err() == nil {
		log.Printf("[WARN] ssh connection to %s is broken, reconnecting: %v", t.host, err)
		t.drop(client)
		if client, err = t.sshClient(ctx); err != nil {
			return nil, err
		}
		conn, err = client.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("can't dial %s via %s: %w", addr, t.host, err)
	}
	log.Printf("[DEBUG] tunneled connection to %s via %s", addr, t.host)
	return conn, nil
}

// drop closes and forgets the client, unless it was already replaced
func (t *Tunnel) drop(client *ssh.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != client {
		return
	}
	_ = t.client.Close()
	t.client = nil
}

// Close closes ssh connection, tunneled connections closed with it
func (t *Tunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *Tunnel) sshClient(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	log.Printf("[DEBUG] open ssh tunnel to %s, user %s", t.host, t.user)
	conf, err := t.sshConfig()
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.host)
	if err != nil {
		return nil, fmt.Errorf("can't dial bastion: %w", err)
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, t.host, conf)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("can't make ssh connection to %s: %w", t.host, err)
	}
	t.client = ssh.NewClient(ncc, chans, reqs)
	return t.client, nil
}

func (t *Tunnel) sshConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(t.keyFile) //nolint
	if err != nil {
		return nil, fmt.Errorf("can't read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("can't parse private key: %w", err)
	}
	return &ssh.ClientConfig{
		User:            t.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint
		Timeout:         t.timeout,
	}, nil
}
