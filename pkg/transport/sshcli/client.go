// Package sshcli is the SSH transport. It runs operational commands in exec
// channels, shell commands through the device's shell escape, and file
// transfers over SCP. Its Client is shared by transports that ride on SSH.
package sshcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/transport/scp"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// Client is one SSH connection to a device. Connect opens the TCP
// connection; Authenticate runs the SSH handshake over it.
type Client struct {
	target fleet.Target

	mu     sync.Mutex
	conn   net.Conn
	client *ssh.Client
	closed bool
}

// NewClient creates an unconnected client for t.
func NewClient(t fleet.Target) *Client {
	return &Client{target: t}
}

// Target returns the device this client talks to.
func (c *Client) Target() fleet.Target {
	return c.target
}

// Connect dials the device.
func (c *Client) Connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.target.HostPort())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return util.Wrapf(util.KindConnection, err, "dial %s", c.target.HostPort())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return errClosed
	}
	c.conn = conn
	return nil
}

// errClosed reports a connect step that finished after Close.
var errClosed = util.Wrap(util.KindCancelled, errors.New("ssh client closed"))

// Authenticate runs the SSH handshake on the connected socket.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return util.Wrap(util.KindConnection, errors.New("not connected"))
	}

	config, err := ClientConfig(c.target)
	if err != nil {
		return util.Wrap(util.KindAuth, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	sc, chans, reqs, err := ssh.NewClientConn(conn, c.target.HostPort(), config)
	stop()
	conn.SetDeadline(time.Time{})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classifyHandshake(c.target, err)
	}

	cl := ssh.NewClient(sc, chans, reqs)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cl.Close()
		return errClosed
	}
	c.client = cl
	c.mu.Unlock()
	util.WithSession(c.target.Address, string(c.target.Transport)).Debug("SSH session established")
	return nil
}

func classifyHandshake(t fleet.Target, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"), strings.Contains(msg, "no supported methods remain"):
		return util.Wrapf(util.KindAuth, err, "authentication failed for %q", t.Credentials.Username)
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "EOF"):
		return util.Wrapf(util.KindConnection, err, "ssh handshake with %s", t.HostPort())
	}
	return util.Wrapf(util.KindTransport, err, "ssh handshake with %s", t.HostPort())
}

// ClientConfig builds the SSH client configuration for t's credentials.
func ClientConfig(t fleet.Target) (*ssh.ClientConfig, error) {
	creds := t.Credentials
	var methods []ssh.AuthMethod

	if creds.KeyFile != "" {
		pem, err := os.ReadFile(creds.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		var signer ssh.Signer
		if creds.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(creds.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing key file %s: %w", creds.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		password := creds.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no password or key file for %s", t.Address)
	}

	return &ssh.ClientConfig{
		User: creds.Username,
		Auth: methods,
		// Network devices rarely have managed host keys.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.ConnectTimeout,
	}, nil
}

// SSH returns the authenticated client, or nil before Authenticate.
func (c *Client) SSH() *ssh.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *Client) ready() (*ssh.Client, error) {
	if cl := c.SSH(); cl != nil {
		return cl, nil
	}
	return nil, util.Wrap(util.KindTransport, errors.New("ssh session not established"))
}

// Exec runs cmd in a new exec channel and returns its combined output.
// A non-zero exit is a device error carrying the output.
func (c *Client) Exec(ctx context.Context, cmd string) (string, error) {
	cl, err := c.ready()
	if err != nil {
		return "", err
	}
	sess, err := cl.NewSession()
	if err != nil {
		return "", util.Wrapf(util.KindTransport, err, "ssh session")
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out
	if err := sess.Start(cmd); err != nil {
		return "", util.Wrapf(util.KindTransport, err, "ssh exec %q", cmd)
	}
	stop := context.AfterFunc(ctx, func() { sess.Close() })
	err = sess.Wait()
	stop()

	text := out.String()
	if ctx.Err() != nil {
		return text, ctx.Err()
	}
	var exit *ssh.ExitError
	if errors.As(err, &exit) {
		return text, util.NewDeviceError(c.target.Address,
			fmt.Sprintf("%q exited with status %d", cmd, exit.ExitStatus()), util.SplitLines(text)...)
	}
	if err != nil {
		return text, util.Wrapf(util.KindTransport, err, "ssh exec %q", cmd)
	}
	return text, nil
}

// PushFile copies a local file or tree to the device.
func (c *Client) PushFile(ctx context.Context, local, remote string) (string, error) {
	cl, err := c.ready()
	if err != nil {
		return "", err
	}
	st, err := scp.Push(ctx, cl, local, remote)
	if err != nil {
		return "", transferError(c.target, err)
	}
	return fmt.Sprintf("%s -> %s:%s (%s)", local, c.target.Address, remote, st), nil
}

// PullFile copies a remote file or tree into local, creating it as needed.
func (c *Client) PullFile(ctx context.Context, remote, local string) (string, error) {
	cl, err := c.ready()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(local, 0755); err != nil {
		return "", err
	}
	st, err := scp.Pull(ctx, cl, remote, local)
	if err != nil {
		return "", transferError(c.target, err)
	}
	return fmt.Sprintf("%s:%s -> %s (%s)", c.target.Address, remote, local, st), nil
}

func transferError(t fleet.Target, err error) error {
	var re *scp.RemoteError
	if errors.As(err, &re) {
		return util.NewDeviceError(t.Address, re.Message)
	}
	return err
}

// Close tears down the SSH client and socket. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return err
}
