package netconf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/newtron-network/newtfleet/pkg/fleet"
	"github.com/newtron-network/newtfleet/pkg/session"
	"github.com/newtron-network/newtfleet/pkg/transport/sshcli"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// closeTimeout bounds the close-session exchange.
const closeTimeout = 2 * time.Second

// Transport is a NETCONF session over SSH. Shell commands and file
// transfers use separate channels on the same SSH connection.
type Transport struct {
	*sshcli.Client

	mu     sync.Mutex
	conn   *Conn
	closed bool
}

// Dial is the session.Dialer for fleet.TransportNETCONF.
func Dial(t fleet.Target) (session.Transport, error) {
	return &Transport{Client: sshcli.NewClient(t)}, nil
}

// Authenticate runs the SSH handshake, opens the netconf subsystem, and
// exchanges hellos.
func (t *Transport) Authenticate(ctx context.Context) error {
	if err := t.Client.Authenticate(ctx); err != nil {
		return err
	}
	cl := t.SSH()
	if cl == nil {
		return util.Wrap(util.KindCancelled, errors.New("netconf transport closed"))
	}
	sess, err := cl.NewSession()
	if err != nil {
		return util.Wrapf(util.KindTransport, err, "opening netconf channel")
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return err
	}
	if err := sess.RequestSubsystem("netconf"); err != nil {
		sess.Close()
		return util.Wrapf(util.KindTransport, err, "netconf subsystem unavailable on %s", t.Target().Address)
	}

	conn, err := Open(ctx, &channel{Reader: stdout, in: stdin, sess: sess})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return util.Wrapf(util.KindTransport, err, "netconf hello")
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		closeConn(conn)
		return util.Wrap(util.KindCancelled, errors.New("netconf transport closed"))
	}
	t.conn = conn
	t.mu.Unlock()
	util.WithSession(t.Target().Address, string(fleet.TransportNETCONF)).
		Debugf("NETCONF session %s established", conn.SessionID)
	return nil
}

// channel adapts an SSH session's pipes to the stream a Conn runs over.
type channel struct {
	io.Reader
	in   io.WriteCloser
	sess *ssh.Session
}

func (c *channel) Write(p []byte) (int, error) {
	return c.in.Write(p)
}

func (c *channel) Close() error {
	c.in.Close()
	return c.sess.Close()
}

// Close ends the NETCONF session and the SSH connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn, t.closed = nil, true
	t.mu.Unlock()
	if conn != nil {
		closeConn(conn)
	}
	return t.Client.Close()
}

func closeConn(conn *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	conn.Close(ctx)
}

func (t *Transport) current() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// call issues an RPC and converts rpc-errors into device errors.
func (t *Transport) call(ctx context.Context, operation string) (*Reply, error) {
	conn := t.current()
	if conn == nil {
		return nil, util.Wrap(util.KindTransport, errors.New("netconf session not established"))
	}
	reply, err := conn.Call(ctx, operation)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, util.Wrapf(util.KindTransport, err, "netconf rpc")
	}
	if err := reply.Err(t.Target().Address); err != nil {
		return reply, err
	}
	return reply, nil
}

func (t *Transport) callText(ctx context.Context, operation string) (string, error) {
	reply, err := t.call(ctx, operation)
	if err != nil {
		return "", err
	}
	text, err := reply.text()
	if err != nil {
		return "", util.Wrapf(util.KindTransport, err, "decoding reply")
	}
	return withWarnings(text, reply), nil
}

func withWarnings(text string, reply *Reply) string {
	w := reply.Warnings()
	if len(w) == 0 {
		return text
	}
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + strings.Join(w, "\n") + "\n"
}

func (t *Transport) RunCommand(ctx context.Context, command string, format fleet.OutputFormat) (string, error) {
	if format == fleet.FormatXML {
		reply, err := t.call(ctx, rpcCommand(command, format))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(reply.Body), nil
	}
	return t.callText(ctx, rpcCommand(command, format))
}

func (t *Transport) RunShell(ctx context.Context, command string) (string, error) {
	return t.Exec(ctx, sshcli.ShellCommand(command))
}

func (t *Transport) LockConfig(ctx context.Context) error {
	_, err := t.call(ctx, rpcLock())
	return err
}

func (t *Transport) UnlockConfig(ctx context.Context) error {
	_, err := t.call(ctx, rpcUnlock())
	return err
}

func (t *Transport) LoadConfig(ctx context.Context, payload string) error {
	_, err := t.call(ctx, rpcLoad(payload))
	return err
}

func (t *Transport) ValidateConfig(ctx context.Context) (string, error) {
	reply, err := t.call(ctx, rpcCommitCheck())
	if err != nil {
		return "", err
	}
	return withWarnings("configuration check succeeds\n", reply), nil
}

func (t *Transport) CompareConfig(ctx context.Context) (string, error) {
	text, err := t.callText(ctx, rpcCompare())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "no changes against the active configuration\n", nil
	}
	return text, nil
}

func (t *Transport) Commit(ctx context.Context, opts fleet.CommitOptions) (string, error) {
	reply, err := t.call(ctx, rpcCommit(opts))
	if err != nil {
		return "", err
	}
	msg := "commit complete\n"
	if opts.At != "" {
		msg = fmt.Sprintf("commit scheduled for %s\n", opts.At)
	}
	return withWarnings(msg, reply), nil
}

func (t *Transport) DiscardConfig(ctx context.Context) error {
	_, err := t.call(ctx, rpcDiscard())
	return err
}

func (t *Transport) RunningConfig(ctx context.Context, mode fleet.DiffMode) (string, error) {
	return t.callText(ctx, rpcGetConfig(mode))
}

var (
	_ session.Commander      = (*Transport)(nil)
	_ session.ShellRunner    = (*Transport)(nil)
	_ session.Configurer     = (*Transport)(nil)
	_ session.ConfigFetcher  = (*Transport)(nil)
	_ session.FileTransferer = (*Transport)(nil)
)
